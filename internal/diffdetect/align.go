package diffdetect

// hunk is a maximal run of tokens outside the common subsequence. Indices are
// half-open ranges into the old and new token slices.
type hunk struct {
	oldStart, oldEnd int
	newStart, newEnd int
}

// align returns the hunks of a word-level LCS alignment of old and new, in
// document order. A common prefix and suffix are matched before the table is
// built so that the usual small edit in a long document stays cheap.
func align(old, new []string) []hunk {
	prefix := 0
	for prefix < len(old) && prefix < len(new) && old[prefix] == new[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(new)-prefix &&
		old[len(old)-1-suffix] == new[len(new)-1-suffix] {
		suffix++
	}

	a := old[prefix : len(old)-suffix]
	b := new[prefix : len(new)-suffix]
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	if len(a) == 0 || len(b) == 0 || len(a)*len(b) > maxAlignCells {
		return []hunk{{prefix, prefix + len(a), prefix, prefix + len(b)}}
	}

	// lcs[i*(m+1)+j] is the LCS length of a[i:] and b[j:].
	n, m := len(a), len(b)
	width := m + 1
	lcs := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i*width+j] = lcs[(i+1)*width+j+1] + 1
			} else {
				lcs[i*width+j] = max(lcs[(i+1)*width+j], lcs[i*width+j+1])
			}
		}
	}

	var (
		hunks []hunk
		open  bool
		cur   hunk
	)
	flush := func(i, j int) {
		if open {
			cur.oldEnd, cur.newEnd = prefix+i, prefix+j
			hunks = append(hunks, cur)
			open = false
		}
	}
	start := func(i, j int) {
		if !open {
			cur = hunk{oldStart: prefix + i, newStart: prefix + j}
			open = true
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			flush(i, j)
			i++
			j++
		case lcs[(i+1)*width+j] >= lcs[i*width+j+1]:
			start(i, j)
			i++
		default:
			start(i, j)
			j++
		}
	}
	if i < n || j < m {
		start(i, j)
	}
	flush(n, m)
	return hunks
}
