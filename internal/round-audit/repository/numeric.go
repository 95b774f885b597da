package repository

import "strconv"

// u64 envia uint64 como texto; lib/pq não aceita uint64 acima de MaxInt64
func u64(v uint64) string { return strconv.FormatUint(v, 10) }
