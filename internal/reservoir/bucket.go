package reservoir

import "sort"

// Bucket summarizes the samples of one fixed-duration slot. Index is the
// slot number counted from the trimmer start.
type Bucket struct {
	Index int64
	Count int64
	Min   int64
	Max   int64
	Sum   int64
}

func (b *Bucket) add(v int64) {
	if b.Count == 0 {
		b.Min, b.Max = v, v
	} else {
		b.Min = min(b.Min, v)
		b.Max = max(b.Max, v)
	}
	b.Count++
	b.Sum += v
}

func (b *Bucket) merge(o Bucket) {
	if o.Count == 0 {
		return
	}
	if b.Count == 0 {
		b.Min, b.Max = o.Min, o.Max
	} else {
		b.Min = min(b.Min, o.Min)
		b.Max = max(b.Max, o.Max)
	}
	b.Count += o.Count
	b.Sum += o.Sum
}

// bucketSet groups samples by bucket index.
type bucketSet map[int64]*Bucket

func (s bucketSet) add(idx, v int64) {
	b, ok := s[idx]
	if !ok {
		b = &Bucket{Index: idx}
		s[idx] = b
	}
	b.add(v)
}

// sorted returns the buckets in ascending index order.
func (s bucketSet) sorted() []Bucket {
	out := make([]Bucket, 0, len(s))
	for _, b := range s {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
