// Package stats provides conditionally-compiled counters the frame table
// and supplemental page table embed for debug instrumentation. Cycles_t
// accumulates elapsed wall-clock nanoseconds rather than raw CPU cycles,
// since there is no portable cycle counter in the standard library.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// / Enabled gates every counter in this package to a no-op when false, so
// / instrumentation costs nothing in the common case.
const Enabled = false

// / Counter_t is a statistical counter.
type Counter_t int64

// / Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// / Add adds n to the counter.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

// / Cycles_t accumulates elapsed time in nanoseconds.
type Cycles_t int64

// / Since adds the elapsed time since start to the counter.
func (c *Cycles_t) Since(start time.Time) {
	if Enabled {
		atomic.AddInt64((*int64)(c), int64(time.Since(start)))
	}
}

// / Stats2String renders every Counter_t/Cycles_t field of st as a line of
// / text. Returns "" when instrumentation is disabled.
func Stats2String(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + time.Duration(n).String()
		}
	}
	return s + "\n"
}
