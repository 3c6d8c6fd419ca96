package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/highlighter/internal/config"
	"github.com/MarcoPoloResearchLab/highlighter/internal/database"
	"github.com/MarcoPoloResearchLab/highlighter/internal/logging"
	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
	"github.com/MarcoPoloResearchLab/highlighter/internal/users"
)

var errMissingUserFlag = errors.New("--user is required")

func newListCommand() *cobra.Command {
	var userID string
	var showHighlights bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the highlighted pages stored for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errMissingUserFlag
			}
			return runList(cmd.Context(), cmd.OutOrStdout(), userID, showHighlights)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Canonical user id")
	cmd.Flags().BoolVar(&showHighlights, "highlights", false, "Print the highlights of every page")
	return cmd
}

func runList(ctx context.Context, out io.Writer, userID string, showHighlights bool) error {
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewConsoleLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	repository, err := pages.NewRepository(pages.RepositoryConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	identities, err := userService.Identities(ctx, userID)
	if err != nil {
		return err
	}
	storedPages, err := repository.ListPages(ctx, userID)
	if err != nil {
		return err
	}

	printer := newListPrinter(out)
	printer.identities(userID, identities)
	for _, page := range storedPages {
		printer.page(page)
		if !showHighlights {
			continue
		}
		records, err := repository.Load(ctx, userID, page.PageKey)
		if err != nil {
			return err
		}
		for _, record := range records {
			printer.highlight(string(record.Color), record.Text)
		}
	}
	printer.summary(len(storedPages))
	return nil
}

type listPrinter struct {
	out    io.Writer
	header *color.Color
	key    *color.Color
	muted  *color.Color
	swatch map[string]*color.Color
}

func newListPrinter(out io.Writer) *listPrinter {
	return &listPrinter{
		out:    out,
		header: color.New(color.Bold, color.FgCyan),
		key:    color.New(color.FgHiBlack),
		muted:  color.New(color.Faint),
		swatch: map[string]*color.Color{
			"yellow": color.New(color.FgYellow),
			"green":  color.New(color.FgGreen),
			"blue":   color.New(color.FgBlue),
			"red":    color.New(color.FgRed),
		},
	}
}

func (p *listPrinter) identities(userID string, identities []users.Identity) {
	p.header.Fprintf(p.out, "%s\n", userID)
	for _, identity := range identities {
		p.muted.Fprintf(p.out, "  %s:%s %s\n", identity.Provider, identity.Subject, identity.Email)
	}
}

func (p *listPrinter) page(page pages.Page) {
	updated := time.Unix(page.UpdatedAtSeconds, 0).UTC().Format(time.RFC3339)
	fmt.Fprintf(p.out, "%s  %d highlight(s)  %s\n", page.PageURL, page.HighlightCount, updated)
	p.key.Fprintf(p.out, "  %s\n", page.PageKey)
}

func (p *listPrinter) highlight(colorName, text string) {
	swatch, ok := p.swatch[colorName]
	if !ok {
		swatch = p.muted
	}
	swatch.Fprintf(p.out, "  ● %-7s", colorName)
	fmt.Fprintf(p.out, " %s\n", text)
}

func (p *listPrinter) summary(count int) {
	p.header.Fprintf(p.out, "%d page(s)\n", count)
}
