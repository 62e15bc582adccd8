package frontend

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

var ErrBadLayout = errors.New("failed to parse layout file")

// LayoutRegex matches one region line in a layout file:
// a hex start-end range followed by r or rw, /proc/PID/maps style.
//
// Start address is placed in match group 1, end address in match
// group 2, permissions in match group 3.
var LayoutRegex = regexp.MustCompile(
	`^([a-f0-9]+)-([a-f0-9]+)\s+(rw?)\s*$`,
)

// Region is one contiguous range of simulated user memory.
type Region struct {
	Start    uint64
	End      uint64
	Writable bool
}

// LoadLayout reads a layout file describing the regions of a simulated
// address space, one per line. Blank lines and lines starting with #
// are skipped.
func LoadLayout(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var regions []Region

	scanner := bufio.NewScanner(f)
	line := 0

	for scanner.Scan() {
		line++
		l := scanner.Text()

		if len(l) == 0 || l[0] == '#' {
			continue
		}

		fields := LayoutRegex.FindStringSubmatch(l)
		if fields == nil {
			return nil, fmt.Errorf("%w: line %d doesn't describe a region", ErrBadLayout, line)
		}

		start, err := strconv.ParseUint(fields[1], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to convert start address to integer: %w", err)
		}

		end, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to convert end address to integer: %w", err)
		}

		if end <= start {
			return nil, fmt.Errorf("%w: line %d: start and end addresses overlap", ErrBadLayout, line)
		}

		regions = append(regions, Region{
			Start:    start,
			End:      end,
			Writable: fields[3] == "rw",
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("%w: no regions found", ErrBadLayout)
	}

	return regions, nil
}

// BuildAddressSpace maps every region of a layout into a fresh
// simulated address space.
func BuildAddressSpace(regions []Region) (*SimAddressSpace, error) {
	space := NewSimAddressSpace()

	for _, r := range regions {
		if err := space.Map(r.Start, r.End-r.Start, r.Writable); err != nil {
			return nil, fmt.Errorf("failed to map region %#x-%#x: %w", r.Start, r.End, err)
		}
	}

	return space, nil
}
