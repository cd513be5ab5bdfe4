// Package dispatch turns the pure next-fire computation into wall-clock
// behavior: one armed timer for the earliest upcoming reminder, delivery of
// everything due at wake-up, and the midnight rollover that starts a fresh
// tracking day.
package dispatch
