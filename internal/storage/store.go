package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/epitome-sim/reverie-core/internal/experiment"
	"github.com/epitome-sim/reverie-core/internal/infrastructure/cache"
)

// DefaultListCacheKey is the cache key of the experiment directory listing.
const DefaultListCacheKey = "experiment_list"

// Default placement range for personas created without coordinates.
const (
	minRandomCoordinate = 50
	maxRandomCoordinate = 200
)

// Config configures a Store.
type Config struct {
	// Root holds one directory per experiment.
	Root string
	// TemplatesRoot holds the reverie/ and associative_memory/ trees.
	TemplatesRoot string
	// PublicWhitelist names experiments visible to every user.
	PublicWhitelist []string
	// ListCacheTTL is how long the listing is cached. Zero disables caching.
	ListCacheTTL time.Duration
	// ListCacheKey overrides DefaultListCacheKey.
	ListCacheKey string
}

// Logger is the logging interface used by Store.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRand sets the random source used to place personas and pick their
// known objects.
func WithRand(rng *rand.Rand) Option {
	return func(s *Store) { s.rng = rng }
}

// Store reads and writes experiment directories.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Concurrent writes to the
//     same experiment are not coordinated.
type Store struct {
	cfg    Config
	public map[string]struct{}
	cache  cache.Store
	logger Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Store. cache may be nil, which disables listing cache.
func New(cfg Config, listCache cache.Store, opts ...Option) *Store {
	if cfg.ListCacheKey == "" {
		cfg.ListCacheKey = DefaultListCacheKey
	}
	s := &Store{
		cfg:    cfg,
		public: make(map[string]struct{}, len(cfg.PublicWhitelist)),
		cache:  listCache,
		logger: noopLogger{},
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // placement, not security
	}
	for _, id := range cfg.PublicWhitelist {
		s.public[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dir returns the directory of id after validating it.
func (s *Store) dir(id string) (string, error) {
	if err := experiment.ValidateID(id); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return filepath.Join(s.cfg.Root, id), nil
}

// Exists reports whether an experiment directory exists for id.
func (s *Store) Exists(id string) (bool, error) {
	dir, err := s.dir(id)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking experiment %s: %w", id, err)
	}
	return info.IsDir(), nil
}

// List returns the public experiments and the private experiments owned by
// username. Private experiments without a readable meta.json are skipped.
func (s *Store) List(ctx context.Context, username string) (Listing, error) {
	names, err := s.listNames(ctx)
	if err != nil {
		return Listing{}, err
	}

	listing := Listing{Public: []string{}, Private: []string{}}
	for _, name := range names {
		if _, ok := s.public[name]; ok {
			listing.Public = append(listing.Public, name)
			continue
		}
		meta, err := s.readMeta(filepath.Join(s.cfg.Root, name))
		if err != nil {
			continue
		}
		if owner, ok := meta.Owner(); ok && owner == username {
			listing.Private = append(listing.Private, name)
		}
	}
	return listing, nil
}

// listNames returns the experiment directory names, from cache when fresh.
func (s *Store) listNames(ctx context.Context) ([]string, error) {
	if s.cache != nil && s.cfg.ListCacheTTL > 0 {
		raw, ok, err := s.cache.Get(ctx, s.cfg.ListCacheKey)
		if err != nil {
			s.logger.Warn("reading experiment list cache failed", "error", err)
		}
		if ok {
			var names []string
			if err := json.Unmarshal(raw, &names); err == nil {
				return names, nil
			}
		}
	}

	entries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}

	if s.cache != nil && s.cfg.ListCacheTTL > 0 {
		raw, err := json.Marshal(names)
		if err == nil {
			err = s.cache.Set(ctx, s.cfg.ListCacheKey, raw, s.cfg.ListCacheTTL)
		}
		if err != nil {
			s.logger.Warn("writing experiment list cache failed", "error", err)
		}
	}
	return names, nil
}

// invalidate drops the cached listing.
func (s *Store) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.cfg.ListCacheKey); err != nil {
		s.logger.Warn("invalidating experiment list cache failed", "error", err)
	}
}

// Create assembles an experiment template from the templates directory and
// req. An existing experiment with the same id is overwritten in place.
func (s *Store) Create(ctx context.Context, req CreateRequest) error {
	if req.SimCode == "" {
		return fmt.Errorf("%w: sim_code is required", ErrInvalidRequest)
	}
	if len(req.Characters) == 0 {
		return fmt.Errorf("%w: characters must be a list", ErrInvalidRequest)
	}
	dir, err := s.dir(req.SimCode)
	if err != nil {
		return err
	}
	characters := make([]Character, 0, len(req.Characters))
	for _, c := range req.Characters {
		if c.Name == "" {
			continue
		}
		if c.Name == "." || c.Name == ".." || strings.ContainsAny(c.Name, "/\\\x00") {
			return fmt.Errorf("%w: invalid character name %q", ErrInvalidRequest, c.Name)
		}
		characters = append(characters, c)
	}

	if err := os.MkdirAll(filepath.Join(dir, "environment"), 0o755); err != nil {
		return fmt.Errorf("creating experiment %s: %w", req.SimCode, err)
	}

	positions := make(map[string]map[string]any, len(characters))
	for _, c := range characters {
		positions[c.Name] = map[string]any{
			"maze": "the_ville",
			"x":    s.coordinate(c.CoordinatesX),
			"y":    s.coordinate(c.CoordinatesY),
		}
	}
	if err := writeJSON(filepath.Join(dir, "environment", "0.json"), positions, "    "); err != nil {
		return err
	}

	reverieDir := filepath.Join(dir, "reverie")
	if err := copyDir(filepath.Join(s.cfg.TemplatesRoot, "reverie"), reverieDir); err != nil {
		return fmt.Errorf("copying reverie template: %w", err)
	}
	meta, err := s.readMeta(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(characters))
	for _, c := range characters {
		names = append(names, c.Name)
	}
	meta["persona_names"] = names
	meta["fork_sim_code"] = req.SimCode
	meta["parent"] = req.SimCode
	meta["step"] = req.Steps
	meta["sec_per_step"] = req.SecPerStep
	meta["owner"] = req.Owner
	meta["maze_name"] = req.MazeName
	meta["start_date"] = req.StartDate
	if err := writeJSON(filepath.Join(reverieDir, "meta.json"), meta, "  "); err != nil {
		return err
	}

	for _, c := range characters {
		memoryDir := filepath.Join(dir, "personas", c.Name, "bootstrap_memory")
		if err := os.MkdirAll(memoryDir, 0o755); err != nil {
			return fmt.Errorf("creating persona %s: %w", c.Name, err)
		}
		if err := writeJSON(filepath.Join(memoryDir, "scratch.json"), newScratch(c), ""); err != nil {
			return err
		}
		s.rngMu.Lock()
		spatial := newSpatialMemory(s.rng)
		s.rngMu.Unlock()
		if err := writeJSON(filepath.Join(memoryDir, "spatial_memory.json"), spatial, ""); err != nil {
			return err
		}
		if err := copyDir(filepath.Join(s.cfg.TemplatesRoot, "associative_memory"), filepath.Join(memoryDir, "associative_memory")); err != nil {
			return fmt.Errorf("copying associative memory template: %w", err)
		}
	}

	s.invalidate(ctx)
	return nil
}

func (s *Store) coordinate(v *int) int {
	if v != nil {
		return *v
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return minRandomCoordinate + s.rng.IntN(maxRandomCoordinate-minRandomCoordinate+1)
}

// Detail returns every persona's scratch memory and the experiment's meta.
func (s *Store) Detail(_ context.Context, id string) (Detail, error) {
	dir, err := s.dir(id)
	if err != nil {
		return Detail{}, err
	}
	personasDir := filepath.Join(dir, "personas")
	if !isDir(personasDir) || !isDir(filepath.Join(dir, "reverie")) {
		return Detail{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	detail := Detail{ScratchDataCollection: []map[string]any{}}
	err = filepath.WalkDir(personasDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "scratch.json" {
			return nil
		}
		var scratch map[string]any
		if err := readJSON(path, &scratch); err != nil {
			return err
		}
		detail.ScratchDataCollection = append(detail.ScratchDataCollection, scratch)
		return nil
	})
	if err != nil {
		return Detail{}, err
	}

	meta, err := s.readMeta(dir)
	if err != nil {
		return Detail{}, err
	}
	detail.Config = meta
	return detail, nil
}

// Delete removes the experiment directory.
func (s *Store) Delete(ctx context.Context, id string) error {
	ok, err := s.Exists(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(filepath.Join(s.cfg.Root, id)); err != nil {
		return fmt.Errorf("deleting experiment %s: %w", id, err)
	}
	s.invalidate(ctx)
	return nil
}

// ParentCheck reports whether id is a template or a simulation history
// forked from one.
func (s *Store) ParentCheck(_ context.Context, id string) (ParentInfo, error) {
	ok, err := s.Exists(id)
	if err != nil {
		return ParentInfo{}, err
	}
	if !ok {
		return ParentInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	meta, err := s.readMeta(filepath.Join(s.cfg.Root, id))
	if err != nil {
		return ParentInfo{}, err
	}
	parent := meta.Parent()
	return ParentInfo{Parent: parent, IsTemplate: parent == id}, nil
}

// Replay returns what the replay viewer needs to render id from step.
// Initial positions come from the latest environment file.
func (s *Store) Replay(_ context.Context, id string, step int) (ReplayContext, error) {
	if step < 0 {
		return ReplayContext{}, fmt.Errorf("%w: invalid step value", ErrInvalidRequest)
	}
	dir, err := s.dir(id)
	if err != nil {
		return ReplayContext{}, err
	}

	personaEntries, err := os.ReadDir(filepath.Join(dir, "personas"))
	if err != nil {
		return ReplayContext{}, fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	replay := ReplayContext{
		SimCode:        id,
		Step:           step,
		PersonaNames:   []PersonaName{},
		PersonaInitPos: []PersonaPosition{},
		Mode:           "replay",
	}
	personas := make(map[string]struct{}, len(personaEntries))
	for _, e := range personaEntries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		personas[e.Name()] = struct{}{}
		replay.PersonaNames = append(replay.PersonaNames, PersonaName{
			Name:        e.Name(),
			Underscored: strings.ReplaceAll(e.Name(), " ", "_"),
		})
	}

	latest, err := latestEnvironmentStep(filepath.Join(dir, "environment"))
	if err != nil {
		return ReplayContext{}, fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	var positions map[string]struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := readJSON(filepath.Join(dir, "environment", strconv.Itoa(latest)+".json"), &positions); err != nil {
		return ReplayContext{}, err
	}
	names := make([]string, 0, len(positions))
	for name := range positions {
		if _, ok := personas[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		p := positions[name]
		replay.PersonaInitPos = append(replay.PersonaInitPos, PersonaPosition{Name: name, X: p.X, Y: p.Y})
	}
	return replay, nil
}

// latestEnvironmentStep returns the highest <step>.json in dir.
func latestEnvironmentStep(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	steps := make([]int, 0, len(entries))
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		if step, err := strconv.Atoi(base); err == nil {
			steps = append(steps, step)
		}
	}
	if len(steps) == 0 {
		return 0, errors.New("no environment files")
	}
	return slices.Max(steps), nil
}

func (s *Store) readMeta(dir string) (Meta, error) {
	var meta Meta
	if err := readJSON(filepath.Join(dir, "reverie", "meta.json"), &meta); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = Meta{}
	}
	return meta, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorrupt, path, err)
	}
	return nil
}

func writeJSON(path string, v any, indent string) error {
	var (
		data []byte
		err  error
	)
	if indent == "" {
		data, err = json.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", indent)
	}
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // experiment files are read by the simulation
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// copyDir recursively copies src into dst, merging with existing content.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644) //nolint:gosec // experiment files are read by the simulation
	})
}
