// Package grading turns an executed submission into a pass/fail outcome.
//
// Both sides of a comparison go through the same normalization: column names
// are lower-cased, numeric-looking text becomes a number, non-integer numbers
// are rounded half-up to six fractional digits, text is trimmed, and row sets
// are sorted by their canonical JSON form. The comparator then checks the
// normalized shapes according to the problem's expected output kind.
package grading
