package batch

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
)

var (
	ErrNoImages      = errors.New("no images match pattern")
	ErrUnpairedImage = errors.New("image has no mask")
	ErrUnpairedMask  = errors.New("mask has no image")
	ErrDuplicateName = errors.New("duplicate file name")
)

// Pair is one unit of work. Mask is empty when no mask pattern was given.
type Pair struct {
	Name  string
	Image string
	Mask  string
}

// Pairs expands the glob patterns and pairs every image with the mask of the
// same base name. Results are sorted by image path.
func Pairs(imagePattern, maskPattern string) ([]Pair, error) {
	images, err := sortedGlob(imagePattern)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, imagePattern)
	}

	byName := make(map[string]string, len(images))
	for _, path := range images {
		name := filepath.Base(path)
		if prev, ok := byName[name]; ok {
			return nil, fmt.Errorf("%w: %s and %s would both write %s", ErrDuplicateName, prev, path, name)
		}
		byName[name] = path
	}

	masks := map[string]string{}
	if maskPattern != "" {
		paths, err := sortedGlob(maskPattern)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			name := filepath.Base(path)
			if prev, ok := masks[name]; ok {
				return nil, fmt.Errorf("%w: masks %s and %s", ErrDuplicateName, prev, path)
			}
			if _, ok := byName[name]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnpairedMask, path)
			}
			masks[name] = path
		}
	}

	pairs := make([]Pair, 0, len(images))
	for _, path := range images {
		name := filepath.Base(path)
		pair := Pair{Name: name, Image: path}
		if maskPattern != "" {
			mask, ok := masks[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnpairedImage, path)
			}
			pair.Mask = mask
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func sortedGlob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}
