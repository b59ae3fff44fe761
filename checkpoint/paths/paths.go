// Package paths implements the on-disk layout protocol of checkpoint
// directories: standardized step-directory names, temporary directories for
// in-progress saves, and atomic finalization by rename.
//
// A save writes into `<name>.orbax-checkpoint-tmp-<uid>` and renames it to
// `<name>` once every leaf committed; a step directory without the tmp suffix
// is by definition finalized. Readers therefore never observe a partially
// written checkpoint.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// TmpDirSuffix marks in-progress (not yet finalized) checkpoint
	// directories. The suffix is followed by a unique id.
	TmpDirSuffix = ".orbax-checkpoint-tmp-"

	// CommitSuccessFile marks a checkpoint as finalized on storage where
	// renames are not atomic (object stores). On local filesystems the
	// rename itself is the commit and this file is informational.
	CommitSuccessFile = "commit_success.txt"
)

var tmpDirStepRe = regexp.MustCompile(`.*?_*?(\d+)\.orbax-checkpoint-tmp-`)

// SaveDirOptions customizes SaveDirectory.
type SaveDirOptions struct {
	// Name of the item saved under the step directory ("params", "state").
	Name string

	// StepPrefix prepended to the step number ("checkpoint" gives
	// "checkpoint_42").
	StepPrefix string

	// StepFormatFixedLength pads the step number with leading zeros to this
	// many digits. 0 means no padding.
	StepFormatFixedLength int
}

// SaveDirectory returns the standardized path of a step's save directory
// under the top-level checkpoint directory. opts may be nil.
func SaveDirectory(directory string, step int, opts *SaveDirOptions) (string, error) {
	if directory == "" {
		return "", errors.New("paths: directory cannot be empty")
	}
	if opts == nil {
		opts = &SaveDirOptions{}
	}
	stepStr := strconv.Itoa(step)
	if opts.StepFormatFixedLength > 0 {
		stepStr = fmt.Sprintf("%0*d", opts.StepFormatFixedLength, step)
	}
	if opts.StepPrefix != "" {
		stepStr = opts.StepPrefix + "_" + stepStr
	}
	result := filepath.Join(directory, stepStr)
	if opts.Name != "" {
		result = filepath.Join(result, opts.Name)
	}
	return result, nil
}

// StepFromName extracts the step number from a step directory name. It
// accepts plain numbers ("42"), prefixed ones ("checkpoint_42") and tmp
// directory names ("42.orbax-checkpoint-tmp-<uid>").
func StepFromName(name string) (int, error) {
	if step, err := strconv.Atoi(name); err == nil {
		return step, nil
	}
	if parts := strings.Split(name, "_"); len(parts) == 2 && parts[0] != "" {
		if step, err := strconv.Atoi(parts[1]); err == nil {
			return step, nil
		}
	}
	if m := tmpDirStepRe.FindStringSubmatch(name); m != nil {
		return strconv.Atoi(m[1])
	}
	return 0, errors.Errorf("paths: unrecognized checkpoint name format %q", name)
}

// TmpDirectory returns the temporary directory a save of finalDir writes
// into. It does not create it.
func TmpDirectory(finalDir string) string {
	return filepath.Join(filepath.Dir(finalDir),
		filepath.Base(finalDir)+TmpDirSuffix+uuid.NewString())
}

// CreateTmpDirectory creates and returns the temporary save directory for
// finalDir.
func CreateTmpDirectory(finalDir string) (string, error) {
	tmpDir := TmpDirectory(finalDir)
	if err := os.MkdirAll(tmpDir, 0770); err != nil {
		return "", errors.Wrapf(err, "paths: failed to create tmp directory %q", tmpDir)
	}
	return tmpDir, nil
}

// FinalizeSave atomically promotes a completed save: the tmp directory is
// renamed to the final one. When both are the same path (backends saving in
// place) a CommitSuccessFile is written instead.
func FinalizeSave(tmpDir, finalDir string) error {
	if tmpDir == finalDir {
		content := fmt.Sprintf("Checkpoint commit was successful to %s", finalDir)
		path := filepath.Join(finalDir, CommitSuccessFile)
		if err := os.WriteFile(path, []byte(content), 0660); err != nil {
			return errors.Wrapf(err, "paths: failed to write %q", path)
		}
		return nil
	}
	klog.V(1).Infof("Renaming %s to %s", tmpDir, finalDir)
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return errors.Wrapf(err, "paths: failed to finalize %q", finalDir)
	}
	return nil
}

// IsFinalized reports whether path is a finalized checkpoint directory.
func IsFinalized(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.Wrapf(err, "paths: cannot stat %q", path)
	}
	if !info.IsDir() {
		return false, errors.Errorf("paths: %q is not a directory, not a valid checkpoint", path)
	}
	return !strings.Contains(filepath.Base(path), TmpDirSuffix), nil
}

// IsTmpCheckpoint reports whether path is an in-progress (tmp) checkpoint
// directory.
func IsTmpCheckpoint(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, errors.Wrapf(err, "paths: cannot stat %q", path)
	}
	if !info.IsDir() {
		return false, nil
	}
	return strings.Contains(filepath.Base(path), TmpDirSuffix), nil
}

// isStepName matches names of step directories: a number, optionally behind a
// single "<prefix>_".
func isStepName(name string) bool {
	if _, err := strconv.Atoi(name); err == nil {
		return true
	}
	parts := strings.Split(name, "_")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	_, err := strconv.Atoi(parts[1])
	return err == nil
}

// CheckpointSteps returns the sorted step numbers of every finalized
// checkpoint under directory.
func CheckpointSteps(directory string) ([]int, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, errors.Wrapf(err, "paths: cannot list %q", directory)
	}
	var steps []int
	for _, entry := range entries {
		if !entry.IsDir() || !isStepName(entry.Name()) {
			continue
		}
		step, err := StepFromName(entry.Name())
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	slices.Sort(steps)
	return steps, nil
}

// TmpCheckpoints returns the names of in-progress checkpoint directories
// under directory.
func TmpCheckpoints(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, errors.Wrapf(err, "paths: cannot list %q", directory)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(entry.Name(), TmpDirSuffix) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// CleanupTmpDirectories removes leftover tmp directories of interrupted
// saves.
func CleanupTmpDirectories(directory string) error {
	names, err := TmpCheckpoints(directory)
	if err != nil {
		return err
	}
	for _, name := range names {
		path := filepath.Join(directory, name)
		klog.Infof("Removing leftover tmp checkpoint %s", path)
		if err = os.RemoveAll(path); err != nil {
			return errors.Wrapf(err, "paths: failed to remove %q", path)
		}
	}
	return nil
}
