package http

import (
	"time"

	xutil "TradeCore/pkg/util"
)

// ParseTime accepts RFC3339 and unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
