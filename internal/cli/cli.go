// Package cli implements the operator tool: snapshot the inscriptions table,
// list snapshots, restore one after confirmation, and generate an
// encryption key.
//
// Status lines go to Out with ✅/❌ markers; diagnostics go through zerolog.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-inscriptions/internal/cryptox"
	"github.com/tbourn/go-inscriptions/internal/domain"
	"github.com/tbourn/go-inscriptions/internal/services"
)

// Store is the snapshot surface the commands need. *services.BackupService
// satisfies it.
type Store interface {
	Create(ctx context.Context) (*services.BackupResult, error)
	List() ([]services.BackupInfo, error)
	Resolve(name string) (string, error)
	Load(path string) (*domain.Snapshot, error)
	Restore(ctx context.Context, snap *domain.Snapshot) (int, error)
}

// Lister reads the backup directory. It needs no database, so list works
// while the database is down.
type Lister interface {
	List() ([]services.BackupInfo, error)
}

// OpenFunc connects the store. The returned close func is always non-nil
// when err is nil.
type OpenFunc func(ctx context.Context) (Store, func() error, error)

// App runs one command. In supplies the restore confirmation.
type App struct {
	Open  OpenFunc
	Files Lister
	In   io.Reader
	Out  io.Writer

	// Interactive is false when In is not a terminal. The answer read is
	// then echoed so transcripts show what was confirmed.
	Interactive bool

	// GenerateKey defaults to cryptox.GenerateKey.
	GenerateKey func() (string, error)
}

const rule = "=================================================="

// Run executes args (without the program name) and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	a.printf("%s\n🗄️  Système de sauvegarde - Database Backup System\n%s\n", rule, rule)

	if len(args) == 0 {
		a.usage()
		return 0
	}

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	switch cmd {
	case "backup":
		return a.withStore(ctx, a.backup)
	case "list":
		return a.list()
	case "restore":
		name := ""
		if len(args) > 1 {
			name = strings.TrimSpace(args[1])
		}
		return a.withStore(ctx, func(ctx context.Context, s Store) int {
			err := a.restore(ctx, s, name)
			switch {
			case err == nil, errors.Is(err, services.ErrConfirmationDeclined):
				return 0
			default:
				return 1
			}
		})
	case "keygen":
		return a.keygen()
	default:
		a.printf("❌ Commande inconnue: %s\n", cmd)
		a.printf("Commandes disponibles: backup, restore, list, keygen\n")
		return 0
	}
}

func (a *App) usage() {
	a.printf("\n📌 Utilisation:\n")
	a.printf("   backup            - Créer une sauvegarde\n")
	a.printf("   restore [fichier] - Restaurer la dernière sauvegarde (ou le fichier donné)\n")
	a.printf("   list              - Afficher les sauvegardes disponibles\n")
	a.printf("   keygen            - Générer une clé de chiffrement\n")
}

func (a *App) withStore(ctx context.Context, fn func(context.Context, Store) int) int {
	store, closeFn, err := a.Open(ctx)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		a.printf("❌ Connexion impossible: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}()
	return fn(ctx, store)
}

func (a *App) backup(ctx context.Context, s Store) int {
	a.printf("🔄 Création de la sauvegarde en cours...\n")
	res, err := s.Create(ctx)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		a.printf("❌ Erreur lors de la sauvegarde: %v\n", err)
		return 1
	}
	a.printf("✅ Sauvegarde créée avec succès!\n")
	a.printf("📁 Fichier: %s\n", res.Path)
	a.printf("📊 Nombre d'enregistrements: %d\n", res.RecordCount)
	return 0
}

func (a *App) list() int {
	a.printf("📋 Sauvegardes disponibles:\n%s\n", strings.Repeat("-", 50))
	infos, err := a.Files.List()
	if err != nil {
		log.Error().Err(err).Msg("list backups")
		a.printf("❌ Erreur: %v\n", err)
		return 1
	}
	if len(infos) == 0 {
		a.printf("❌ Aucune sauvegarde trouvée\n")
		return 0
	}
	for i, in := range infos {
		a.printf("%d. %s\n", i+1, in.Name)
		if in.Err != nil {
			a.printf("   ⚠️  Illisible: %v\n", in.Err)
		} else {
			a.printf("   📅 Date: %s\n", in.BackupDate)
			a.printf("   📊 Enregistrements: %d\n", in.RecordCount)
		}
		a.printf("   💾 Taille: %d bytes\n\n", in.Size)
	}
	return 0
}

// restore returns services.ErrConfirmationDeclined when the operator did not
// answer yes; the table is then untouched.
func (a *App) restore(ctx context.Context, s Store, name string) error {
	a.printf("🔄 Restauration de la sauvegarde en cours...\n")

	path, err := s.Resolve(name)
	switch {
	case errors.Is(err, services.ErrNoBackups):
		a.printf("❌ Aucune sauvegarde à restaurer\n")
		return err
	case errors.Is(err, services.ErrBackupNotFound):
		a.printf("❌ Fichier inexistant: %s\n", name)
		return err
	case err != nil:
		a.printf("❌ Erreur lors de la restauration: %v\n", err)
		return err
	}

	snap, err := s.Load(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("load snapshot")
		a.printf("❌ Erreur lors de la restauration: %v\n", err)
		return err
	}
	a.printf("📁 Restauration depuis: %s\n", path)
	a.printf("📊 Nombre d'enregistrements: %d\n", snap.RecordCount)

	if !a.confirm("⚠️  Attention: les données actuelles seront supprimées! Voulez-vous continuer? (oui/non): ") {
		a.printf("❌ Annulé\n")
		return services.ErrConfirmationDeclined
	}

	n, err := s.Restore(ctx, snap)
	if err != nil {
		var rerr *services.RestoreError
		if errors.As(err, &rerr) {
			log.Error().Err(rerr.Err).Int("written", rerr.Written).Msg("restore rolled back")
			a.printf("❌ Erreur lors de la restauration: %v\n", rerr.Err)
			a.printf("↩️  %d enregistrements écrits avant l'erreur ont été annulés; la table est inchangée\n", rerr.Written)
			return err
		}
		a.printf("❌ Erreur lors de la restauration: %v\n", err)
		return err
	}
	a.printf("✅ %d enregistrements restaurés avec succès!\n", n)
	return nil
}

// confirm reads one line. Only oui, yes and y (any case) count as consent.
func (a *App) confirm(prompt string) bool {
	a.printf("%s", prompt)
	line, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("read confirmation")
		return false
	}
	answer := strings.TrimSpace(line)
	if !a.Interactive {
		a.printf("%s\n", answer)
	}
	return IsAffirmative(answer)
}

// IsAffirmative reports whether s is an explicit yes.
func IsAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oui", "yes", "y":
		return true
	}
	return false
}

func (a *App) keygen() int {
	gen := a.GenerateKey
	if gen == nil {
		gen = cryptox.GenerateKey
	}
	key, err := gen()
	if err != nil {
		log.Error().Err(err).Msg("generate key")
		a.printf("❌ Erreur: %v\n", err)
		return 1
	}
	a.printf("🔑 ENCRYPTION_KEY=%s\n", key)
	return 0
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}
