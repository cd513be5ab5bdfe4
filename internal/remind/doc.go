// Package remind contains the pure scheduling core: minute arithmetic on
// wall-clock times, per-rule eligibility, next-fire computation, and
// earliest-across-rules selection.
//
// # Model
//
// A Rule describes a recurring reminder: an active-day mask (Monday-first),
// a [start, deadline] window of interval reminders, and optional late
// escalation times after the deadline. A window whose deadline is numerically
// before its start crosses midnight and belongs to the day it started on.
//
// DayState records which rules the user has acknowledged for one calendar
// day. The functions here never mutate it.
//
// # Determinism
//
// Nothing in this package reads the clock or holds state. Every function
// takes "now" (or a date) explicitly, so callers and tests fully control
// time. All computations use local wall-clock minutes; the engine assumes a
// single consistent local clock.
package remind
