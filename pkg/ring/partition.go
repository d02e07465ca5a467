package ring

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RangeWidth is the number of file identifiers each node owns.
const RangeWidth = 10

// MaxOrdinal is the largest ordinal whose range fits in an int.
const MaxOrdinal = (math.MaxInt - RangeWidth) / RangeWidth

var ErrInvalidIdentifier = errors.New("invalid identifier")

var filePrefixes = []string{"arquivo", "file"}

// ParseOrdinal extracts n from a node id of the form "P<n>".
func ParseOrdinal(nodeID string) (int, error) {
	s := nodeID
	if len(s) > 0 && (s[0] == 'P' || s[0] == 'p') {
		s = s[1:]
	}
	n, err := parseNonNegative(s)
	if err != nil || n > MaxOrdinal {
		return 0, fmt.Errorf("%w: node id %q", ErrInvalidIdentifier, nodeID)
	}
	return n, nil
}

// ParseFileNumber extracts n from a file id of the form "arquivo<n>" or
// "file<n>". The prefix is matched case-insensitively.
func ParseFileNumber(fileID string) (int, error) {
	s := fileID
	lower := strings.ToLower(s)
	for _, p := range filePrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	n, err := parseNonNegative(s)
	if err != nil {
		return 0, fmt.Errorf("%w: file id %q", ErrInvalidIdentifier, fileID)
	}
	return n, nil
}

// Range returns the inclusive bounds of the file numbers owned by ordinal.
func Range(ordinal int) (min, max int) {
	min = RangeWidth*ordinal + 1
	return min, min + RangeWidth - 1
}

// Owns reports whether the node with nodeID is authoritative for fileID.
// Ownership is a pure function of the two identifiers.
func Owns(nodeID, fileID string) (bool, error) {
	ordinal, err := ParseOrdinal(nodeID)
	if err != nil {
		return false, err
	}
	n, err := ParseFileNumber(fileID)
	if err != nil {
		return false, err
	}
	min, max := Range(ordinal)
	return n >= min && n <= max, nil
}

// FileNames lists the file ids in the range owned by ordinal.
func FileNames(ordinal int) []string {
	min, max := Range(ordinal)
	names := make([]string, 0, RangeWidth)
	for i := min; i <= max; i++ {
		names = append(names, filePrefixes[0]+strconv.Itoa(i))
	}
	return names
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("negative")
	}
	return n, nil
}
