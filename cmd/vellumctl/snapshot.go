package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/vellumbot/internal/alias"
	"github.com/MrWong99/vellumbot/internal/store"
)

const snapshotVersion = 1

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// snapshot is the export file format.
type snapshot struct {
	Version    int           `yaml:"version"`
	ExportedAt time.Time     `yaml:"exported_at"`
	Aliases    []store.Alias `yaml:"aliases"`
}

func writeSnapshot(w io.Writer, snap snapshot, compress bool) error {
	if !compress {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		return enc.Close()
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if err := writeSnapshot(zw, snap, false); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// readSnapshot decodes a plain or zstd-compressed snapshot.
func readSnapshot(r io.Reader) (snapshot, error) {
	var snap snapshot
	br := bufio.NewReader(r)
	var src io.Reader = br
	if head, _ := br.Peek(len(zstdMagic)); bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return snap, err
		}
		defer zr.Close()
		src = zr
	}

	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}

func exportAliases(ctx context.Context, st store.AliasStore, now time.Time) (snapshot, error) {
	rows, err := st.AllAliases(ctx)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{Version: snapshotVersion, ExportedAt: now.UTC(), Aliases: rows}, nil
}

// importAliases writes every alias of snap through the alias table. Rows
// missing an owner, words or expression are rejected together.
func importAliases(ctx context.Context, st store.AliasStore, snap snapshot) (int, error) {
	var errs []error
	for i, a := range snap.Aliases {
		if strings.TrimSpace(a.Owner) == "" || strings.TrimSpace(a.Words) == "" || strings.TrimSpace(a.Expression) == "" {
			errs = append(errs, fmt.Errorf("alias %d: owner, words and expression are required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, err
	}

	tbl := alias.New(st)
	for _, a := range snap.Aliases {
		key := alias.Key(strings.Fields(a.Words))
		if err := tbl.Set(ctx, a.Owner, key, a.Expression); err != nil {
			return 0, err
		}
	}
	return len(snap.Aliases), nil
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every alias to a snapshot file",
		Long: `Write every stored alias as a YAML snapshot. An output file ending in
.zst is zstd-compressed. Without --output the snapshot goes to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			snap, err := exportAliases(cmd.Context(), st, time.Now())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return writeSnapshot(cmd.OutOrStdout(), snap, false)
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := writeSnapshot(f, snap, strings.HasSuffix(output, ".zst")); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d aliases to %s\n", len(snap.Aliases), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "snapshot file (.zst to compress)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load aliases from a snapshot file",
		Long: `Load aliases from a snapshot written by export. Plain and zstd-compressed
files are both accepted; "-" reads stdin. Existing aliases with the same
owner and words are overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			snap, err := readSnapshot(r)
			if err != nil {
				return err
			}

			st, _, err := opts.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := importAliases(cmd.Context(), st, snap)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d aliases\n", n)
			return nil
		},
	}
}
