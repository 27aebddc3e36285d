package firmware

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/davidroman0O/bmcmanager/errors"
)

// Stage is one step of a firmware update run. Stages always execute in
// ascending order.
type Stage int

const (
	StageEnterUpdateMode Stage = iota + 1
	StageRearmTimer
	StageUploadBundle
	StageConfirmUpload
	StageValidateBundle
	StageReplaceBundle
	StageDetectUpdate
	StageSelectComponent
	StagePollProgress
	StageExitUpdateMode
)

var stageNames = map[Stage]string{
	StageEnterUpdateMode: "enter-update-mode",
	StageRearmTimer:      "rearm-timer",
	StageUploadBundle:    "upload-bundle",
	StageConfirmUpload:   "confirm-upload",
	StageValidateBundle:  "validate-bundle",
	StageReplaceBundle:   "replace-bundle",
	StageDetectUpdate:    "detect-available-update",
	StageSelectComponent: "select-component",
	StagePollProgress:    "poll-progress",
	StageExitUpdateMode:  "exit-update-mode",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Valid reports whether s is one of the ten known stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// AllStages returns every stage in execution order.
func AllStages() []Stage {
	stages := make([]Stage, 0, len(stageNames))
	for s := StageEnterUpdateMode; s <= StageExitUpdateMode; s++ {
		stages = append(stages, s)
	}
	return stages
}

// ParseStages parses a comma separated list of stage numbers and ranges,
// e.g. "1,2,7-10". An empty string selects every stage.
func ParseStages(list string) ([]Stage, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return AllStages(), nil
	}

	var stages []Stage
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		lo, hi, isRange := strings.Cut(item, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, errors.Newf(errors.ErrInvalidInput, "invalid stage %q", item)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || to < from {
				return nil, errors.Newf(errors.ErrInvalidInput, "invalid stage range %q", item)
			}
		}
		for n := from; n <= to; n++ {
			stages = append(stages, Stage(n))
		}
	}
	return normalizeStages(stages)
}

// normalizeStages sorts and deduplicates stages, rejecting unknown ones.
func normalizeStages(stages []Stage) ([]Stage, error) {
	if len(stages) == 0 {
		return AllStages(), nil
	}
	seen := make(map[Stage]bool, len(stages))
	out := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if !s.Valid() {
			return nil, errors.Newf(errors.ErrInvalidInput, "unknown firmware stage %d", int(s))
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
