// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// degradedMode is 1 while the store runs local-only, 0 while durable.
	degradedMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "converse",
		Subsystem: "session",
		Name:      "degraded_mode",
		Help:      "1 when the session store is running without its durable backing",
	})

	// durableWriteFailures counts best-effort durable writes that failed.
	durableWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "converse",
		Subsystem: "session",
		Name:      "durable_write_failures_total",
		Help:      "Total failed writes to the durable session store",
	})
)
