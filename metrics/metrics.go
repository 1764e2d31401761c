package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Profile events for the insert-path writer. Registered on the default
// registry so the http server can expose them on /metrics.
var (
	WriterBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "writer",
		Name:      "blocks_total",
		Help:      "Number of blocks written by the insert-path writer",
	})
	WriterBlocksAlreadySorted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "writer",
		Name:      "blocks_already_sorted_total",
		Help:      "Number of inserted blocks that arrived already sorted by the sorting key",
	})
	WriterRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "writer",
		Name:      "rows_total",
		Help:      "Number of rows written by the insert-path writer",
	})
	WriterUncompressedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "writer",
		Name:      "uncompressed_bytes_total",
		Help:      "Uncompressed bytes written by the insert-path writer",
	})
	WriterCompressedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "writer",
		Name:      "compressed_bytes_total",
		Help:      "Bytes on disk written by the insert-path writer",
	})

	ProjectionWriterBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "projection_writer",
		Name:      "blocks_total",
		Help:      "Number of projection blocks written",
	})
	ProjectionWriterBlocksAlreadySorted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "projection_writer",
		Name:      "blocks_already_sorted_total",
		Help:      "Number of projection blocks that were already sorted",
	})
	ProjectionWriterRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "projection_writer",
		Name:      "rows_total",
		Help:      "Number of projection rows written",
	})
	ProjectionWriterUncompressedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "projection_writer",
		Name:      "uncompressed_bytes_total",
		Help:      "Uncompressed bytes written for projections",
	})
	ProjectionWriterCompressedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "permafrost",
		Subsystem: "projection_writer",
		Name:      "compressed_bytes_total",
		Help:      "Bytes on disk written for projections",
	})
)

// CounterValue reads a counter's current value, used by tests.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}
