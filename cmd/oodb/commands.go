package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/oodb/internal/backup"
	"github.com/KilimcininKorOglu/oodb/internal/storage"
	"github.com/KilimcininKorOglu/oodb/internal/storage/engine"
	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
)

// InitCmd creates an empty store.
type InitCmd struct {
	Users bool `help:"Also create the unique username index"`
}

func (c *InitCmd) Run(ctx *kong.Context, g *Globals) error {
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Store.Path); err == nil {
		return fmt.Errorf("%s already exists", cfg.Store.Path)
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	if c.Users {
		if _, err := s.CreateIndex(accountsIndex, engine.KeyString, true); err != nil {
			_ = s.Close()
			return err
		}
	}
	if err := s.Close(); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "Created %s\n", cfg.Store.Path)
	return nil
}

// InspectCmd prints the state of a store.
type InspectCmd struct{}

func (c *InspectCmd) Run(ctx *kong.Context, g *Globals) (err error) {
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, engine.WithCreateIfNotExists(false))
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	stats, err := s.Stats()
	if err != nil {
		return err
	}
	st := stats.Storage

	w := tabwriter.NewWriter(ctx.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", s.Path())
	fmt.Fprintf(w, "File ID:\t%s\n", st.FileID)
	fmt.Fprintf(w, "Commit seq:\t%d\n", st.Seq)
	fmt.Fprintf(w, "Created:\t%s (%s)\n", st.CreatedAt.Format(time.RFC3339), humanize.Time(st.CreatedAt))
	fmt.Fprintf(w, "File size:\t%s (%s pages)\n", humanize.IBytes(st.TotalPages*storage.PageSize), humanize.Comma(int64(st.TotalPages)))
	fmt.Fprintf(w, "Live pages:\t%s\n", humanize.Comma(int64(st.MappedPages)))
	fmt.Fprintf(w, "Free pages:\t%s\n", humanize.Comma(int64(st.FreePhysical)))
	fmt.Fprintf(w, "Pool size:\t%s\n", humanize.IBytes(st.PoolSizeBytes))

	accounts, err := s.RetrieveAll("Account")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Accounts:\t%s\n", humanize.Comma(int64(len(accounts))))
	if err := w.Flush(); err != nil {
		return err
	}

	descs, err := s.Indexes()
	if err != nil {
		return err
	}
	if len(descs) == 0 {
		return nil
	}
	fmt.Fprintln(ctx.Stdout)
	w = tabwriter.NewWriter(ctx.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tKEY\tUNIQUE\tENTRIES\tFIELD")
	for _, d := range descs {
		ix, err := s.Index(d.Name)
		if err != nil {
			return err
		}
		n, err := ix.Count()
		if err != nil {
			return err
		}
		field := "-"
		if d.IsFieldIndex() {
			field = d.TypeName + "." + d.Field
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", d.Name, d.KeyType, d.Unique, humanize.Comma(int64(n)), field)
	}
	return w.Flush()
}

// HistoryCmd prints every committed version of an account.
type HistoryCmd struct {
	Key   string `arg:"" help:"Index key of the object"`
	Index string `default:"users" help:"Index to look the key up in"`
}

func (c *HistoryCmd) Run(ctx *kong.Context, g *Globals) (err error) {
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	s, err := openStore(cfg, engine.WithCreateIfNotExists(false))
	if err != nil {
		return err
	}
	defer closeInto(s, &err)

	ix, err := s.Index(c.Index)
	if err != nil {
		return err
	}
	desc, err := ix.Descriptor()
	if err != nil {
		return err
	}
	key, err := parseKey(desc.KeyType, c.Key)
	if err != nil {
		return err
	}
	obj, err := ix.Get(key)
	if err != nil {
		return err
	}
	if obj == nil {
		return fmt.Errorf("no object under %q in index %s", c.Key, c.Index)
	}

	h, err := s.GetVersionHistory(obj)
	if err != nil {
		return err
	}
	if h == nil {
		fmt.Fprintln(ctx.Stdout, "Object is not version-tracked")
		return nil
	}
	versions, err := h.Versions()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(ctx.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "OID %d, %d versions\n", h.OID(), h.NumberOfVersions())
	fmt.Fprintln(w, "VERSION\tCOMMITTED\tOBJECT")
	for _, v := range versions {
		data, err := json.Marshal(v.Object)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", v.Number, v.CommittedAt.Format(time.RFC3339Nano), data)
	}
	return w.Flush()
}

// parseKey converts a command line key to the index key type.
func parseKey(kt index.KeyType, s string) (any, error) {
	switch kt {
	case index.KeyString:
		return s, nil
	case index.KeyInt:
		return strconv.ParseInt(s, 10, 64)
	case index.KeyUint:
		return strconv.ParseUint(s, 10, 64)
	case index.KeyFloat:
		return strconv.ParseFloat(s, 64)
	case index.KeyBool:
		return strconv.ParseBool(s)
	case index.KeyBytes:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("keys of type %s cannot be given on the command line", kt)
	}
}

// BackupCmd writes a backup archive.
type BackupCmd struct {
	Output   string `required:"" short:"o" help:"Backup file to write" type:"path"`
	Compress bool   `short:"z" help:"Compress the page stream with xz"`
}

func (c *BackupCmd) Run(ctx *kong.Context, g *Globals) error {
	cfg, err := g.resolve()
	if err != nil {
		return err
	}

	stats, err := backup.Backup(cfg.Store.Path, &backup.BackupOptions{
		OutputPath: c.Output,
		Compress:   c.Compress,
		Logger:     newLogger(cfg),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "Backup %s written to %s\n", stats.ID, c.Output)
	fmt.Fprintf(ctx.Stdout, "  Commit seq:  %d\n", stats.Seq)
	fmt.Fprintf(ctx.Stdout, "  Pages:       %s\n", humanize.Comma(int64(stats.TotalPages)))
	fmt.Fprintf(ctx.Stdout, "  Size:        %s\n", humanize.IBytes(uint64(stats.TotalBytes)))
	if c.Compress {
		fmt.Fprintf(ctx.Stdout, "  Compressed:  %s (%.1f%% reduction)\n",
			humanize.IBytes(uint64(stats.CompressedBytes)), stats.CompressionRatio()*100)
	}
	fmt.Fprintf(ctx.Stdout, "  Duration:    %v\n", stats.Duration.Round(time.Millisecond))
	return nil
}

// RestoreCmd rebuilds a store from a backup archive.
type RestoreCmd struct {
	Input      string `required:"" short:"i" help:"Backup file to read" type:"existingfile"`
	VerifyOnly bool   `name:"verify-only" help:"Check the archive without writing a store"`
}

func (c *RestoreCmd) Run(ctx *kong.Context, g *Globals) error {
	if c.VerifyOnly {
		h, err := backup.Verify(c.Input)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.Stdout, "Backup %s is valid: seq %d, %s pages, taken %s\n",
			h.BackupID, h.Seq, humanize.Comma(int64(h.Pages)), humanize.Time(h.CreatedAt()))
		return nil
	}

	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	stats, err := backup.Restore(&backup.RestoreOptions{
		InputPath:  c.Input,
		TargetPath: cfg.Store.Path,
		Logger:     newLogger(cfg),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Stdout, "Restored backup %s (seq %d, %s pages) to %s in %v\n",
		stats.ID, stats.Seq, humanize.Comma(int64(stats.TotalPages)), cfg.Store.Path,
		stats.Duration.Round(time.Millisecond))
	return nil
}
