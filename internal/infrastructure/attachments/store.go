// Package attachments stores didactics files on the local filesystem.
//
// Files live under <root>/<account>/<item id>/<file name>, next to a stamp
// file recording when the item was saved. Items older than the retention
// window are pruned by the housekeeping job.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/infrastructure/external/classeviva"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

const stampFile = ".saved_at"

// ErrInvalidName is returned for an item id or file name that cannot be
// used as a path element.
var ErrInvalidName = errors.New("attachments: invalid name")

// Downloader fetches the file behind a didactics item.
type Downloader interface {
	DownloadDidactic(ctx context.Context, contentID string) (*classeviva.Attachment, error)
}

// Config configures a Store.
type Config struct {
	// Root is the directory holding one subdirectory per account.
	Root string

	// URLPrefix is the account's file route. A stored file is referenced
	// as URLPrefix/<item id>/<file name>.
	URLPrefix string

	// Retention is how long a stored item is kept.
	Retention time.Duration

	// MaxFileSize rejects larger downloads. Zero means no limit.
	MaxFileSize int64
}

// DefaultConfig returns the defaults: 60 days retention, files served
// under /files.
func DefaultConfig() Config {
	return Config{
		Root:        "data/didactics",
		URLPrefix:   "/files",
		Retention:   60 * 24 * time.Hour,
		MaxFileSize: 50 << 20,
	}
}

// Store keeps the didactics files of one account.
type Store struct {
	cfg        Config
	account    string
	dir        string
	downloader Downloader
	now        func() time.Time
	logger     *zap.Logger
}

// NewStore creates the account directory if needed.
func NewStore(cfg Config, account string, downloader Downloader, l *zap.Logger) (*Store, error) {
	if cfg.Root == "" {
		cfg.Root = DefaultConfig().Root
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if err := validName(account); err != nil {
		return nil, err
	}

	dir := filepath.Join(cfg.Root, account)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}

	return &Store{
		cfg:        cfg,
		account:    account,
		dir:        dir,
		downloader: downloader,
		now:        time.Now,
		logger:     logger.OrNop(l).With(logger.Account(account), logger.Component("attachments")),
	}, nil
}

// Account returns the account the store belongs to.
func (s *Store) Account() string {
	return s.account
}

// Dir returns the account directory.
func (s *Store) Dir() string {
	return s.dir
}

// KnownFiles returns the stored item ids mapped to their local reference.
func (s *Store) KnownFiles(ctx context.Context) (map[string]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}

	known := make(map[string]string, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		if name, ok := s.storedFile(e.Name()); ok {
			known[e.Name()] = s.ref(e.Name(), name)
		}
	}
	return known, nil
}

// NewItem downloads item and stores its file.
func (s *Store) NewItem(ctx context.Context, item school.DidacticsItem) error {
	if err := validName(item.ID); err != nil {
		return err
	}
	if s.downloader == nil {
		return errors.New("attachments: no downloader configured")
	}

	att, err := s.downloader.DownloadDidactic(ctx, item.DownloadID())
	if err != nil {
		return fmt.Errorf("download item %s: %w", item.ID, err)
	}
	if len(att.Data) == 0 {
		return fmt.Errorf("download item %s: empty file", item.ID)
	}
	if s.cfg.MaxFileSize > 0 && int64(len(att.Data)) > s.cfg.MaxFileSize {
		return fmt.Errorf("download item %s: %d bytes exceeds the %d byte limit", item.ID, len(att.Data), s.cfg.MaxFileSize)
	}

	name := FileName(att.Filename, item.Title, item.ID)
	if err := s.save(item.ID, name, att.Data); err != nil {
		return err
	}

	s.logger.Info("stored didactics attachment",
		zap.String("item_id", item.ID),
		zap.String("file", name),
		zap.Int("bytes", len(att.Data)),
	)
	return nil
}

func (s *Store) save(itemID, name string, data []byte) error {
	itemDir := filepath.Join(s.dir, itemID)
	if err := os.MkdirAll(itemDir, 0o755); err != nil {
		return fmt.Errorf("create item dir: %w", err)
	}

	tmp, err := os.CreateTemp(itemDir, ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write attachment: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(itemDir, name)); err != nil {
		return fmt.Errorf("store attachment: %w", err)
	}

	stamp := s.now().UTC().Format(time.RFC3339)
	return os.WriteFile(filepath.Join(itemDir, stampFile), []byte(stamp), 0o644)
}

// Prune removes the items saved before cutoff and returns how many went.
// Items that cannot be read are skipped and logged.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list attachments: %w", err)
	}

	var removed int64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() {
			continue
		}
		itemDir := filepath.Join(s.dir, e.Name())
		savedAt, err := s.savedAt(itemDir, e)
		if err != nil {
			s.logger.Warn("cannot read attachment stamp", zap.String("item_id", e.Name()), logger.Err(err))
			continue
		}
		if !savedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(itemDir); err != nil {
			s.logger.Warn("cannot remove attachment", zap.String("item_id", e.Name()), logger.Err(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("pruned didactics attachments", zap.Int64("removed", removed))
	}
	return removed, nil
}

// PruneExpired prunes the items older than the configured retention.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	return s.Prune(ctx, s.now().Add(-s.cfg.Retention))
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration {
	return s.cfg.Retention
}

// Open returns the stored file of itemID.
func (s *Store) Open(itemID, name string) (*os.File, error) {
	if err := validName(itemID); err != nil {
		return nil, err
	}
	if err := validName(name); err != nil || name == stampFile {
		return nil, ErrInvalidName
	}
	return os.Open(filepath.Join(s.dir, itemID, name))
}

// savedAt reads the stamp file, falling back to the directory mtime.
func (s *Store) savedAt(itemDir string, e fs.DirEntry) (time.Time, error) {
	raw, err := os.ReadFile(filepath.Join(itemDir, stampFile))
	if err == nil {
		if t, perr := time.Parse(time.RFC3339, strings.TrimSpace(string(raw))); perr == nil {
			return t, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, err
	}

	info, err := e.Info()
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (s *Store) storedFile(itemID string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(s.dir, itemID))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		return e.Name(), true
	}
	return "", false
}

func (s *Store) ref(itemID, name string) string {
	return path.Join("/", s.cfg.URLPrefix, itemID, name)
}

// FileName picks a safe file name from the download's name, the item
// title or the item id, in that order.
func FileName(downloaded, title, itemID string) string {
	for _, candidate := range []string{downloaded, title} {
		if name := sanitize(candidate); name != "" {
			return name
		}
	}
	return "item_" + sanitize(itemID)
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	name = strings.TrimLeft(name, ".")
	return truncate(name, maxNameBytes)
}

// maxNameBytes keeps names well under the 255 byte limit of common
// filesystems.
const maxNameBytes = 180

// truncate cuts s to at most n bytes without splitting a rune. s must be
// valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i, r := range s {
		end := i + utf8.RuneLen(r)
		if end > n {
			break
		}
		cut = end
	}
	return s[:cut]
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
