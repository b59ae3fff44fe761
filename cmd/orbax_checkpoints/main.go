// orbax_checkpoints inspects checkpoint directories: the finalized steps they
// hold, the stored leaves of one step (name, shape, chunking, dtype) and
// leftover temporary directories of interrupted saves.
//
// Usage:
//
//	orbax_checkpoints -summary <dir>
//	orbax_checkpoints -leaves <dir>/42
//	orbax_checkpoints -cleanup <dir>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/mehdiataei/orbax/checkpoint/paths"
	"github.com/mehdiataei/orbax/tensorstore"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the checkpoint directory: "+
		"finalized steps, latest step, leftover tmp directories.")
	flagSteps  = flag.Bool("steps", false, "Lists the finalized checkpoint steps in the directory.")
	flagLeaves = flag.Bool("leaves", false, "Lists the stored leaves (arrays) under the directory, "+
		"with their shape, chunking and dtype. Point it at one step directory.")
	flagCleanup = flag.Bool("cleanup", false, "Removes leftover tmp directories of interrupted saves.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'orbax_checkpoints -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'orbax_checkpoints -help'.")
		os.Exit(1)
	}
	report(args[0])
}

func report(dir string) {
	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		steps := must.M1(paths.CheckpointSteps(dir))
		tmp := must.M1(paths.TmpCheckpoints(dir))
		table := newPlainTable(false)
		table.Row("directory", dir)
		table.Row("# finalized steps", humanize.Comma(int64(len(steps))))
		if len(steps) > 0 {
			table.Row("latest step", humanize.Comma(int64(steps[len(steps)-1])))
		}
		table.Row("# tmp directories", humanize.Comma(int64(len(tmp))))
		fmt.Println(table.Render())
	}

	if *flagSteps {
		fmt.Println(titleStyle.Render("Steps"))
		steps := must.M1(paths.CheckpointSteps(dir))
		table := newPlainTable(true)
		table.Row("Step", "Path")
		for _, step := range steps {
			table.Row(humanize.Comma(int64(step)), must.M1(paths.SaveDirectory(dir, step, nil)))
		}
		fmt.Println(table.Render())
	}

	if *flagLeaves {
		leaves(dir)
	}

	if *flagCleanup {
		must.M(paths.CleanupTmpDirectories(dir))
	}
}

// leafStores finds the array stores under root: directories holding a
// metadata.json. Stores are leaves, the walk doesn't descend into them.
func leafStores(root string) []string {
	var stores []string
	must.M(filepath.WalkDir(root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if _, statErr := os.Stat(filepath.Join(path, "metadata.json")); statErr == nil {
			stores = append(stores, path)
			return filepath.SkipDir
		}
		return nil
	}))
	return stores
}

func leaves(dir string) {
	fmt.Println(titleStyle.Render("Leaves"))
	table := newPlainTable(true)
	table.Row("Name", "DType", "Shape", "Chunks", "Size", "Bytes")
	ctx := context.Background()
	var rows [][]string
	for _, storePath := range leafStores(dir) {
		store := must.M1(tensorstore.Open(ctx, tensorstore.SpecForPath(storePath),
			tensorstore.OpenOptions{Open: true}))
		name := must.M1(filepath.Rel(dir, storePath))
		shape := store.Shape()
		size := 1
		for _, dim := range shape {
			size *= dim
		}
		rows = append(rows, []string{
			name, store.DType().String(),
			dimsToString(shape), dimsToString(store.ChunkShape()),
			humanize.Comma(int64(size)),
			humanize.Bytes(uint64(size * store.DType().Size())),
		})
	}
	slices.SortFunc(rows, func(a, b []string) int {
		return strings.Compare(a[0], b[0])
	})
	for _, row := range rows {
		table.Row(row...)
	}
	fmt.Println(table.Render())
}

func dimsToString(dims []int) string {
	parts := make([]string, len(dims))
	for ii, dim := range dims {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
