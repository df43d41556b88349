package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/session"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or create session snapshots",
	}
	cmd.AddCommand(newSessionCheckCmd(a), newSessionEncodeCmd(a))
	return cmd
}

func newSessionCheckCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decode MF_STORAGE_B64 (or --file) and summarize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot := a.cfg.Session.StorageB64
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return apperrors.NewStorageError("cannot read snapshot", err).WithContext("file", file)
				}
				snapshot = string(data)
			}
			if strings.TrimSpace(snapshot) == "" {
				return apperrors.NewAppValidationError("no session snapshot: set MF_STORAGE_B64 or pass --file")
			}

			state, err := session.Decode(snapshot)
			if err != nil {
				return err
			}
			printState(cmd, state, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the encoded snapshot from a file")
	return cmd
}

func printState(cmd *cobra.Command, state *session.State, now time.Time) {
	out := cmd.OutOrStdout()

	domains := make(map[string]int)
	var earliest time.Time
	expired := 0
	for _, c := range state.Cookies {
		domains[strings.TrimPrefix(c.Domain, ".")]++
		at, ok := c.ExpiresAt()
		if !ok {
			continue
		}
		if at.Before(now) {
			expired++
			continue
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}

	fmt.Fprintf(out, "cookies: %d (%d expired)\n", len(state.Cookies), expired)
	names := make([]string, 0, len(domains))
	for d := range domains {
		names = append(names, d)
	}
	sort.Strings(names)
	for _, d := range names {
		fmt.Fprintf(out, "  %s: %d\n", d, domains[d])
	}
	if !earliest.IsZero() {
		fmt.Fprintf(out, "next expiry: %s\n", earliest.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "origins: %d\n", len(state.Origins))
	for _, o := range state.Origins {
		fmt.Fprintf(out, "  %s: %d localStorage items\n", o.Origin, len(o.LocalStorage))
	}
}

func newSessionEncodeCmd(a *app) *cobra.Command {
	var compress bool
	cmd := &cobra.Command{
		Use:   "encode STATE.json",
		Short: "Encode a storage state JSON file for MF_STORAGE_B64",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return apperrors.NewStorageError("cannot read storage state", err).WithContext("file", args[0])
			}
			// Decode validates the JSON before it is re-encoded.
			state, err := session.Decode(base64.StdEncoding.EncodeToString(data))
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("compress") {
				compress = a.cfg.Session.Compress
			}
			encoded, err := session.Encode(state, compress)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
	cmd.Flags().BoolVar(&compress, "compress", true, "gzip the JSON before encoding")
	return cmd
}
