package serializer

import "github.com/xitongsys/parquet-go/parquet"

// Compression thresholds: big parts trade CPU for ratio.
const zstdBytesThreshold = 128 * 1024 * 1024

// ChooseCompressionCodec picks the codec from the expected part size and the
// part-to-table size ratio. A zero size and ratio select the minimal codec.
func ChooseCompressionCodec(sizeBytes int64, ratio float64) parquet.CompressionCodec {
	if sizeBytes >= zstdBytesThreshold || ratio >= 0.5 {
		return parquet.CompressionCodec_ZSTD
	}
	return parquet.CompressionCodec_SNAPPY
}
