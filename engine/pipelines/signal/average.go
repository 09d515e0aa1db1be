package signal

// Averager keeps the last Depth rows and returns their per-bin mean. Until
// Depth rows have been added the mean covers only the rows seen so far.
type Averager struct {
	rows   [][]float32
	pos    int
	filled int
	floor  float32
}

// NewAverager sizes the averager for rows of bins values. Missing values in
// a short row count as floor.
func NewAverager(depth, bins int, floor float32) *Averager {
	if depth < 1 {
		depth = 1
	}
	rows := make([][]float32, depth)
	for i := range rows {
		rows[i] = make([]float32, bins)
	}
	return &Averager{rows: rows, floor: floor}
}

func (a *Averager) Depth() int  { return len(a.rows) }
func (a *Averager) Filled() int { return a.filled }

// Add stores row over the oldest one.
func (a *Averager) Add(row []float32) {
	dst := a.rows[a.pos]
	n := copy(dst, row)
	for i := n; i < len(dst); i++ {
		dst[i] = a.floor
	}
	a.pos = (a.pos + 1) % len(a.rows)
	if a.filled < len(a.rows) {
		a.filled++
	}
}

// Mean appends the per-bin mean to dst. With no rows added it appends the
// floor.
func (a *Averager) Mean(dst []float32) []float32 {
	bins := len(a.rows[0])
	if a.filled == 0 {
		for i := 0; i < bins; i++ {
			dst = append(dst, a.floor)
		}
		return dst
	}
	scale := 1 / float32(a.filled)
	for i := 0; i < bins; i++ {
		var sum float32
		for r := 0; r < a.filled; r++ {
			sum += a.rows[r][i]
		}
		dst = append(dst, sum*scale)
	}
	return dst
}

// LineVertices appends a line list through values: bins i and i+1 form
// segment i, so every inner value appears twice.
func LineVertices(values []float32, dst []float32) []float32 {
	for i := 0; i+1 < len(values); i++ {
		dst = append(dst, values[i], values[i+1])
	}
	return dst
}
