package nn

import (
	"github.com/klauspost/cpuid/v2"
)

// The matmul inner kernel is chosen once at init: a cache-blocked loop order
// on AVX2-class CPUs (wide loads make the blocked inner loop worthwhile),
// the naive triple loop otherwise.
var matmulKernel func(a, b, out []float64, m, k, n int)

const matmulBlock = 64

func init() {
	if cpuid.CPU.Supports(cpuid.AVX2) {
		matmulKernel = matmulBlocked
	} else {
		matmulKernel = matmulNaive
	}
}

func matmulNaive(a, b, out []float64, m, k, n int) {
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a[i*k+l]
			if av == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				out[i*n+j] += av * b[l*n+j]
			}
		}
	}
}

func matmulBlocked(a, b, out []float64, m, k, n int) {
	for i0 := 0; i0 < m; i0 += matmulBlock {
		iMax := min(i0+matmulBlock, m)
		for l0 := 0; l0 < k; l0 += matmulBlock {
			lMax := min(l0+matmulBlock, k)
			for j0 := 0; j0 < n; j0 += matmulBlock {
				jMax := min(j0+matmulBlock, n)
				for i := i0; i < iMax; i++ {
					for l := l0; l < lMax; l++ {
						av := a[i*k+l]
						for j := j0; j < jMax; j++ {
							out[i*n+j] += av * b[l*n+j]
						}
					}
				}
			}
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
