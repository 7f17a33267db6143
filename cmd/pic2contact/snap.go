package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pic2contact/internal/app"
	"pic2contact/internal/export"
	"pic2contact/internal/ics"
	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
)

var (
	snapFile   string
	snapCamera bool
	snapOut    string
	snapPrint  bool
	snapGoogle bool
)

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Run the workflow once: acquire, send, save event.ics",
	Long: `snap acquires one photo, either from --file (use "-" for stdin) or
from the camera with --camera, tags it with the current location, sends it
to the backend and saves the result as event.ics in the download dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (snapFile == "") == !snapCamera {
			return errors.New("exactly one of --file or --camera is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if snapOut != "" {
			cfg.DownloadDir = snapOut
		}

		n, closeNotifier := newNotifier(cfg)
		defer closeNotifier()

		ctx, cancel := signalContext()
		defer cancel()

		var importer export.Saver
		if snapGoogle {
			if importer, err = newImporter(ctx, cfg); err != nil {
				return err
			}
			if importer == nil {
				return errors.New("--google needs a google_calendar config section")
			}
		}

		comp := app.New(cliDeps(cfg, n))
		defer comp.Close()

		return runSnap(ctx, comp, importer, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	snapCmd.Flags().StringVar(&snapFile, "file", "", "Photo file to send (\"-\" reads stdin)")
	snapCmd.Flags().BoolVar(&snapCamera, "camera", false, "Capture one frame from the camera")
	snapCmd.Flags().StringVar(&snapOut, "out", "", "Directory for event.ics (overrides download_dir)")
	snapCmd.Flags().BoolVar(&snapPrint, "print", false, "Print the calendar result and a preview to stdout")
	snapCmd.Flags().BoolVar(&snapGoogle, "google", false, "Also import the result into Google Calendar")
}

// runSnap drives one pass of the workflow. importer is optional.
func runSnap(ctx context.Context, comp *app.Component, importer export.Saver, stdin io.Reader, stdout io.Writer) error {
	if err := acquire(ctx, comp, stdin); err != nil {
		return err
	}
	if snap := comp.Snapshot(); snap.Location != nil {
		appLog.Info("photo tagged", "location", snap.LocationText)
	}

	if err := comp.SendPhoto(ctx); err != nil {
		return err
	}
	snap := comp.Snapshot()
	if snap.Mode != model.ModeResultHeld {
		return errors.New("no calendar result received")
	}

	if snapPrint {
		printResult(stdout, snap.Calendar)
	}
	if err := comp.AddToCalendar(ctx); err != nil {
		return err
	}
	if importer != nil {
		return comp.Import(ctx, importer)
	}
	return nil
}

func acquire(ctx context.Context, comp *app.Component, stdin io.Reader) error {
	if snapCamera {
		if err := comp.RequestCamera(ctx); err != nil {
			return err
		}
		return comp.CaptureFrame(ctx)
	}

	var r io.Reader = stdin
	if snapFile != "-" {
		f, err := os.Open(snapFile)
		if err != nil {
			return fmt.Errorf("open photo: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := comp.ChoosePhoto(ctx, r); err != nil {
		if errors.Is(err, app.ErrNoFile) {
			return errors.New("photo file is empty")
		}
		return err
	}
	return nil
}

func printResult(w io.Writer, calendar string) {
	fmt.Fprintln(w, calendar)

	p := ics.BuildPreview(calendar, time.Now(), time.Local)
	switch p.Kind {
	case ics.KindContact:
		fmt.Fprintf(w, "Contact: %s", p.Contact.Name)
		if p.Contact.Phone != "" {
			fmt.Fprintf(w, " (%s)", p.Contact.Phone)
		}
		fmt.Fprintln(w)
	case ics.KindCalendar:
		for _, ev := range p.Events {
			fmt.Fprintf(w, "Event: %s\n", ev.Summary)
			if ev.Location != "" {
				fmt.Fprintf(w, "  where: %s\n", ev.Location)
			}
			for _, occ := range ev.Upcoming {
				if occ.AllDay {
					fmt.Fprintf(w, "  %s (all day)\n", occ.Start.Format("Mon 2006-01-02"))
					continue
				}
				fmt.Fprintf(w, "  %s - %s\n", occ.Start.Format("Mon 2006-01-02 15:04"), occ.End.Format("15:04"))
			}
		}
	}
}
