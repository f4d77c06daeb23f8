package session

// session.go owns the open workbook tabs. Every sheet operation goes
// through the service mutex: projections rebuild their caches lazily on
// read, so even lookups are writes underneath.
//
// Data saves are explicit. Overlay metadata autosaves after any mutation
// that touches it, when the tab has a file path and autosave is enabled,
// so formulas and styles survive a crash even with unsaved cell edits.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/orenccl/jsonsheet/internal/config"
	"github.com/orenccl/jsonsheet/internal/export"
	"github.com/orenccl/jsonsheet/internal/sheet"
	"github.com/orenccl/jsonsheet/internal/sheetio"
)

// Export formats accepted by Export.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

var (
	// ErrTabNotFound is returned when a tab id does not resolve.
	ErrTabNotFound = errors.New("tab not found")

	// ErrNoPath is returned by Save on a tab that has never been saved.
	ErrNoPath = errors.New("sheet has no file path; use save-as")

	// ErrUnknownFormat is returned by Export for formats it cannot write.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Service manages the ordered set of open tabs for one running instance.
type Service struct {
	cfg config.SessionConfig
	exp config.ExportConfig
	log *slog.Logger

	mu       sync.Mutex
	tabs     []*tab
	active   int
	untitled int
}

type tab struct {
	id       string
	title    string
	path     string
	table    *sheet.Table
	warnings []sheet.StructuralWarning

	// Revisions captured at the last successful save; the dirty flag is
	// the comparison against the live table.
	savedData uint64
	savedMeta uint64
}

// TabInfo is the API-facing snapshot of one tab.
type TabInfo struct {
	ID       string                    `json:"id"`
	Title    string                    `json:"title"`
	Path     string                    `json:"path,omitempty"`
	Rows     int                       `json:"rows"`
	Dirty    bool                      `json:"dirty"`
	Active   bool                      `json:"active"`
	Warnings []sheet.StructuralWarning `json:"warnings,omitempty"`
}

// New builds a service holding one fresh blank tab.
func New(cfg config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	sc := cfg.Session
	if sc.UntitledPrefix == "" {
		sc.UntitledPrefix = "Untitled"
	}
	s := &Service{cfg: sc, exp: cfg.Export, log: log}
	s.tabs = append(s.tabs, s.blankTab())
	return s
}

func (s *Service) blankTab() *tab {
	s.untitled++
	return &tab{
		id:    uuid.New().String(),
		title: fmt.Sprintf("%s %d", s.cfg.UntitledPrefix, s.untitled),
		table: sheet.Blank(s.cfg.HistoryLimit),
	}
}

func (s *Service) findLocked(id string) (int, *tab, error) {
	for i, t := range s.tabs {
		if t.id == id {
			return i, t, nil
		}
	}
	return 0, nil, ErrTabNotFound
}

func (s *Service) infoLocked(i int, t *tab) TabInfo {
	return TabInfo{
		ID:       t.id,
		Title:    t.title,
		Path:     t.path,
		Rows:     t.table.RowCount(),
		Dirty:    t.table.DataRevision() != t.savedData || t.table.MetaRevision() != t.savedMeta,
		Active:   i == s.active,
		Warnings: t.warnings,
	}
}

// Tabs lists every open tab in order.
func (s *Service) Tabs() []TabInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]TabInfo, len(s.tabs))
	for i, t := range s.tabs {
		infos[i] = s.infoLocked(i, t)
	}
	return infos
}

// Active returns the active tab's snapshot.
func (s *Service) Active() TabInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked(s.active, s.tabs[s.active])
}

// Info returns one tab's snapshot.
func (s *Service) Info(id string) (TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, t, err := s.findLocked(id)
	if err != nil {
		return TabInfo{}, err
	}
	return s.infoLocked(i, t), nil
}

// SwitchTo makes the given tab active.
func (s *Service) SwitchTo(id string) (TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, t, err := s.findLocked(id)
	if err != nil {
		return TabInfo{}, err
	}
	s.active = i
	return s.infoLocked(i, t), nil
}

// NewTab appends a fresh blank tab and makes it active.
func (s *Service) NewTab() TabInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.blankTab()
	s.tabs = append(s.tabs, t)
	s.active = len(s.tabs) - 1
	return s.infoLocked(s.active, t)
}

// Open loads a data file plus its sidecar into a new active tab. Load
// failure leaves the session untouched. Structural warnings from the merge
// ride along on the tab.
func (s *Service) Open(path string) (TabInfo, error) {
	sf, err := sheetio.LoadSheet(path)
	if err != nil {
		return TabInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &tab{
		id:       uuid.New().String(),
		title:    filepath.Base(path),
		path:     path,
		table:    sheet.NewTable(sf.Records, sf.Meta, s.cfg.HistoryLimit),
		warnings: sf.Warnings,
	}
	t.savedData = t.table.DataRevision()
	t.savedMeta = t.table.MetaRevision()
	s.tabs = append(s.tabs, t)
	s.active = len(s.tabs) - 1
	return s.infoLocked(s.active, t), nil
}

// CloseTab removes a tab, discarding unsaved cell edits. Overlay changes
// get one final flush first when autosave is on. Closing the last tab
// leaves a fresh blank one; when the active tab closes, its right
// neighbour takes over.
func (s *Service) CloseTab(id string) (TabInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, t, err := s.findLocked(id)
	if err != nil {
		return TabInfo{}, err
	}
	s.flushMetaLocked(t)

	s.tabs = append(s.tabs[:i], s.tabs[i+1:]...)
	if len(s.tabs) == 0 {
		s.tabs = append(s.tabs, s.blankTab())
		s.active = 0
	} else if s.active > i {
		s.active--
	} else if s.active >= len(s.tabs) {
		s.active = len(s.tabs) - 1
	}
	return s.infoLocked(s.active, s.tabs[s.active]), nil
}

// View runs fn against a tab's sheet under the session lock. The sheet
// must not be retained past the call.
func (s *Service) View(id string, fn func(t *sheet.Table) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t, err := s.findLocked(id)
	if err != nil {
		return err
	}
	return fn(t.table)
}

// Mutate runs fn against a tab's sheet under the session lock and, when it
// succeeds, autosaves the overlay if the mutation touched it.
func (s *Service) Mutate(id string, fn func(t *sheet.Table) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t, err := s.findLocked(id)
	if err != nil {
		return err
	}
	if err := fn(t.table); err != nil {
		return err
	}
	s.flushMetaLocked(t)
	return nil
}

// flushMetaLocked rewrites the sidecar when the overlay moved past the
// last saved revision. Failures are logged, never fatal: the in-memory
// edit already happened and an explicit save can still persist it.
func (s *Service) flushMetaLocked(t *tab) {
	if !s.cfg.AutosaveMetadata || t.path == "" {
		return
	}
	rev := t.table.MetaRevision()
	if rev == t.savedMeta {
		return
	}
	sc := sheetio.BuildSidecar(t.table)
	if err := sheetio.SaveSidecar(sheetio.SidecarPath(t.path), sc); err != nil {
		s.log.Warn("metadata autosave failed", "path", t.path, "error", err)
		return
	}
	t.savedMeta = rev
}

// snapshot is everything a save needs, captured under the lock so the
// write can happen outside it.
type snapshot struct {
	id      string
	path    string
	records []map[string]sheet.Value
	order   []string
	sidecar *sheetio.Sidecar
	issues  []sheet.CellIssue
	dataRev uint64
	metaRev uint64
}

func (s *Service) snapshotLocked(t *tab, path string) snapshot {
	records, issues := t.table.ExportRecords()
	return snapshot{
		id:      t.id,
		path:    path,
		records: records,
		order:   t.table.ExportColumns(),
		sidecar: sheetio.BuildSidecar(t.table),
		issues:  issues,
		dataRev: t.table.DataRevision(),
		metaRev: t.table.MetaRevision(),
	}
}

// markSaved records a completed write, unless the tab changed or vanished
// while the file was being written.
func (s *Service) markSaved(snap snapshot, rename bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t, err := s.findLocked(snap.id)
	if err != nil {
		return
	}
	if rename {
		t.path = snap.path
		t.title = filepath.Base(snap.path)
	}
	if t.table.DataRevision() == snap.dataRev {
		t.savedData = snap.dataRev
	}
	if t.table.MetaRevision() == snap.metaRev {
		t.savedMeta = snap.metaRev
	}
}

// Save writes a tab's data file and sidecar to its existing path. The
// returned issues are per-cell coercion or formula problems; they make the
// save lossy (those cells export null), not failed.
func (s *Service) Save(ctx context.Context, id string) ([]sheet.CellIssue, error) {
	s.mu.Lock()
	_, t, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if t.path == "" {
		s.mu.Unlock()
		return nil, ErrNoPath
	}
	snap := s.snapshotLocked(t, t.path)
	s.mu.Unlock()

	if err := s.writeSnapshot(ctx, snap); err != nil {
		return snap.issues, err
	}
	s.markSaved(snap, false)
	return snap.issues, nil
}

// SaveAs writes a tab to a new path and rebinds the tab to it.
func (s *Service) SaveAs(ctx context.Context, id, path string) ([]sheet.CellIssue, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoPath
	}
	s.mu.Lock()
	_, t, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := s.snapshotLocked(t, path)
	s.mu.Unlock()

	if err := s.writeSnapshot(ctx, snap); err != nil {
		return snap.issues, err
	}
	s.markSaved(snap, true)
	return snap.issues, nil
}

// SaveAll saves every tab that has a path, in parallel, and reports
// per-tab issues. Tabs never saved to a file are skipped.
func (s *Service) SaveAll(ctx context.Context) (map[string][]sheet.CellIssue, error) {
	s.mu.Lock()
	snaps := make([]snapshot, 0, len(s.tabs))
	for _, t := range s.tabs {
		if t.path == "" {
			continue
		}
		snaps = append(snaps, s.snapshotLocked(t, t.path))
	}
	s.mu.Unlock()

	issues := make(map[string][]sheet.CellIssue, len(snaps))
	for _, snap := range snaps {
		if len(snap.issues) > 0 {
			issues[snap.id] = snap.issues
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, snap := range snaps {
		snap := snap
		g.Go(func() error {
			if err := s.writeSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("save %s: %w", snap.path, err)
			}
			s.markSaved(snap, false)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return issues, err
	}
	return issues, nil
}

// writeSnapshot performs the actual file writes. The context is checked
// up front; the writes themselves are local and atomic.
func (s *Service) writeSnapshot(ctx context.Context, snap snapshot) error {
	if s.cfg.SaveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SaveTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return sheetio.SaveSheet(snap.path, snap.records, snap.order, snap.sidecar)
}

// Export writes a tab's baked projection to w as JSON or XLSX. The
// snapshot is taken under the lock; encoding happens outside it so a slow
// writer cannot stall the session.
func (s *Service) Export(id, format string, w io.Writer) ([]sheet.CellIssue, error) {
	if format != FormatJSON && format != FormatXLSX {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	s.mu.Lock()
	_, t, err := s.findLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	records, issues := t.table.ExportRecords()
	order := t.table.ExportColumns()
	title := t.title
	s.mu.Unlock()

	switch format {
	case FormatJSON:
		data, err := sheetio.MarshalRecords(records, order, strings.Repeat(" ", s.exp.JSONIndent))
		if err != nil {
			return issues, err
		}
		_, err = w.Write(data)
		return issues, err
	default:
		if title == "" {
			title = s.exp.XLSXSheetName
		}
		return issues, export.WriteXLSX(w, title, order, records)
	}
}
