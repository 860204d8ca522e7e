package bayesian

import "gonum.org/v1/gonum/mat"

// MatrixPool keeps released matrices for reuse by later computations of the
// same size. Matrices handed out by Get* are zeroed. A MatrixPool is not
// safe for concurrent use.
type MatrixPool struct {
	symPools   map[int][]*mat.SymDense
	densePools map[[2]int][]*mat.Dense
	vecPools   map[int][]*mat.VecDense
}

// NewMatrixPool creates a new MatrixPool
func NewMatrixPool() *MatrixPool {
	return &MatrixPool{
		symPools:   make(map[int][]*mat.SymDense),
		densePools: make(map[[2]int][]*mat.Dense),
		vecPools:   make(map[int][]*mat.VecDense),
	}
}

// GetSymDense returns an n×n symmetric matrix from the pool or creates a new one
func (p *MatrixPool) GetSymDense(n int) *mat.SymDense {
	if pool := p.symPools[n]; len(pool) > 0 {
		m := pool[len(pool)-1]
		p.symPools[n] = pool[:len(pool)-1]
		m.Zero()
		return m
	}
	return mat.NewSymDense(n, nil)
}

// PutSymDense returns a symmetric matrix to the pool
func (p *MatrixPool) PutSymDense(m *mat.SymDense) {
	if m == nil || m.IsEmpty() {
		return
	}
	n := m.SymmetricDim()
	p.symPools[n] = append(p.symPools[n], m)
}

// GetDense returns an r×c matrix from the pool or creates a new one
func (p *MatrixPool) GetDense(r, c int) *mat.Dense {
	key := [2]int{r, c}
	if pool := p.densePools[key]; len(pool) > 0 {
		m := pool[len(pool)-1]
		p.densePools[key] = pool[:len(pool)-1]
		m.Zero()
		return m
	}
	return mat.NewDense(r, c, nil)
}

// PutDense returns a dense matrix to the pool
func (p *MatrixPool) PutDense(m *mat.Dense) {
	if m == nil || m.IsEmpty() {
		return
	}
	r, c := m.Dims()
	key := [2]int{r, c}
	p.densePools[key] = append(p.densePools[key], m)
}

// GetVecDense returns a vector of length n from the pool or creates a new one
func (p *MatrixPool) GetVecDense(n int) *mat.VecDense {
	if pool := p.vecPools[n]; len(pool) > 0 {
		v := pool[len(pool)-1]
		p.vecPools[n] = pool[:len(pool)-1]
		v.Zero()
		return v
	}
	return mat.NewVecDense(n, nil)
}

// PutVecDense returns a vector to the pool
func (p *MatrixPool) PutVecDense(v *mat.VecDense) {
	if v == nil || v.IsEmpty() {
		return
	}
	p.vecPools[v.Len()] = append(p.vecPools[v.Len()], v)
}
