package eval

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/result"
)

// Layout is the on-disk home of one evaluation instance.
type Layout struct {
	Root       string `json:"root"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	Validation string `json:"validation"`
}

func NewLayout(evalOut string, key InstanceKey) Layout {
	root := filepath.Join(evalOut, key.String())
	return Layout{
		Root:       root,
		Input:      filepath.Join(root, "input"),
		Output:     filepath.Join(root, "output"),
		Validation: filepath.Join(root, "validation"),
	}
}

// Create makes every directory of the layout. Existing directories and
// their contents are left alone.
func (l Layout) Create() error {
	for _, dir := range []string{l.Root, l.Input, l.Output, l.Validation} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.IO(err, "creating %s", dir)
		}
	}
	return nil
}

// Plan maps every prepared instance to its layout.
type Plan map[InstanceKey]Layout

// Keys returns the plan's keys ordered by instance id.
func (p Plan) Keys() []InstanceKey {
	keys := make([]InstanceKey, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

type BuildOptions struct {
	BenchmarkDir    string
	EvalOut         string
	AgentName       string
	Layers          []string
	Apps            []string
	SourceFramework string
	TargetFramework string
}

// AgentName derives the agent identifier from its directory: the base name
// of the cleaned absolute path.
func AgentName(agentDir string) (string, error) {
	abs, err := filepath.Abs(agentDir)
	if err != nil {
		return "", errs.Wrap(errs.ErrConfiguration, err, "resolving agent dir %s", agentDir)
	}
	name := filepath.Base(abs)
	if name == string(filepath.Separator) || name == "." {
		return "", errs.Configf("agent dir %q has no usable name", agentDir)
	}
	return name, nil
}

// AppRef is an application selected for evaluation.
type AppRef struct {
	Layer string
	App   string
	Dir   string
}

// CheckFrameworks rejects an empty or identity conversion.
func CheckFrameworks(source, target string) error {
	if source == "" || target == "" {
		return errs.Configf("both source and target frameworks are required")
	}
	if source == target {
		return errs.Configf("source and target frameworks cannot be the same: %s", source)
	}
	return nil
}

// ResolveApps selects the applications named by opts without touching the
// filesystem beyond reading directories. With no layers requested every
// immediate subdirectory of the benchmark dir is a layer; with no apps
// requested every immediate subdirectory of a layer is an app.
func ResolveApps(opts *BuildOptions) ([]AppRef, error) {
	layers := opts.Layers
	if len(layers) == 0 {
		var err error
		layers, err = subdirs(opts.BenchmarkDir)
		if err != nil {
			return nil, err
		}
	} else {
		for _, layer := range layers {
			info, err := os.Stat(filepath.Join(opts.BenchmarkDir, layer))
			if err != nil || !info.IsDir() {
				return nil, errs.Configf("layer %q not found under %s", layer, opts.BenchmarkDir)
			}
		}
	}

	wanted := make(map[string]bool, len(opts.Apps))
	for _, a := range opts.Apps {
		wanted[a] = true
	}

	var refs []AppRef
	for _, layer := range dedupe(layers) {
		layerDir := filepath.Join(opts.BenchmarkDir, layer)
		apps, err := subdirs(layerDir)
		if err != nil {
			return nil, err
		}
		for _, app := range apps {
			if len(wanted) > 0 && !wanted[app] {
				continue
			}
			refs = append(refs, AppRef{Layer: layer, App: app, Dir: filepath.Join(layerDir, app)})
		}
	}

	if len(wanted) > 0 && len(refs) == 0 {
		return nil, errs.Configf("the app(s) %s were not found in layer(s) %s",
			strings.Join(opts.Apps, ", "), strings.Join(layers, ", "))
	}
	return refs, nil
}

// Prepare builds the evaluation plan and materialises it under opts.EvalOut:
// the three directories of every instance, the source framework snapshot in
// input/ and output/, and metadata.json with status PREPARED. All parameter
// checks run before the first directory is created. Re-running Prepare for
// the same instances re-seeds them without deleting anything.
func Prepare(opts *BuildOptions) (Plan, error) {
	if err := CheckFrameworks(opts.SourceFramework, opts.TargetFramework); err != nil {
		return nil, err
	}
	if opts.AgentName == "" {
		return nil, errs.Configf("agent name is required")
	}
	if opts.EvalOut == "" {
		return nil, errs.Configf("eval output dir is required")
	}

	refs, err := ResolveApps(opts)
	if err != nil {
		return nil, err
	}

	requested := make(map[string]bool, len(opts.Apps))
	for _, a := range opts.Apps {
		requested[a] = true
	}

	type pending struct {
		key InstanceKey
		ref AppRef
	}
	var todo []pending
	for _, ref := range refs {
		key := InstanceKey{
			Agent:           opts.AgentName,
			Layer:           ref.Layer,
			App:             ref.App,
			SourceFramework: opts.SourceFramework,
			TargetFramework: opts.TargetFramework,
		}
		if err := key.Validate(); err != nil {
			return nil, errs.Wrap(errs.ErrConfiguration, err, "app %s/%s", ref.Layer, ref.App)
		}
		if !isDir(filepath.Join(ref.Dir, opts.SourceFramework)) {
			if requested[ref.App] {
				return nil, errs.NotFoundf("app %s/%s has no %s implementation", ref.Layer, ref.App, opts.SourceFramework)
			}
			slog.Warn("skipping app without source framework", "layer", ref.Layer, "app", ref.App, "framework", opts.SourceFramework)
			continue
		}
		todo = append(todo, pending{key: key, ref: ref})
	}
	if len(todo) == 0 {
		slog.Warn("no applications to evaluate", "benchmark_dir", opts.BenchmarkDir, "framework", opts.SourceFramework)
	}

	plan := make(Plan, len(todo))
	for _, p := range todo {
		layout, err := prepareInstance(opts.EvalOut, p.key, p.ref)
		if err != nil {
			return nil, fmt.Errorf("preparing %s: %w", p.key, err)
		}
		plan[p.key] = layout
	}
	return plan, nil
}

func prepareInstance(evalOut string, key InstanceKey, ref AppRef) (Layout, error) {
	slog.Debug("preparing instance", "instance", key.String(), "app", ref.Dir)
	layout := NewLayout(evalOut, key)
	if err := layout.Create(); err != nil {
		return Layout{}, err
	}
	if err := CopySnapshot(ref.Dir, key.SourceFramework, layout.Input); err != nil {
		return Layout{}, err
	}
	if err := CopySnapshot(ref.Dir, key.SourceFramework, layout.Output); err != nil {
		return Layout{}, err
	}
	if err := result.WriteMetadata(layout.Root, key.Metadata(result.StatusPrepared)); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

// LoadPlan recovers the plan of an existing eval output tree. Directories
// whose names are not instance ids are ignored; instances whose metadata
// disagrees with their directory name are an error.
func LoadPlan(evalOut string) (Plan, error) {
	entries, err := os.ReadDir(evalOut)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFoundf("eval output dir %s", evalOut)
		}
		return nil, errs.IO(err, "reading %s", evalOut)
	}
	plan := make(Plan)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		key, err := ParseInstanceID(e.Name())
		if err != nil {
			slog.Debug("ignoring directory", "name", e.Name(), "reason", err)
			continue
		}
		layout := NewLayout(evalOut, key)
		meta, err := result.ReadMetadata(layout.Root)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", key, err)
		}
		if err := key.CheckMetadata(meta); err != nil {
			return nil, err
		}
		plan[key] = layout
	}
	return plan, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NotFoundf("directory %s", dir)
		}
		return nil, errs.IO(err, "reading %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
