package vision

import "sort"

// NMS performs greedy non-maximum suppression. Detections are visited in
// descending score order and any later detection whose IoU with a kept one
// exceeds iouThreshold is dropped. The input slice is not modified.
func NMS(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return nil
	}

	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	keep := make([]bool, len(sorted))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(sorted); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if keep[j] && sorted[i].Rect.IoU(sorted[j].Rect) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]Detection, 0, len(sorted))
	for i, d := range sorted {
		if keep[i] {
			result = append(result, d)
		}
	}
	return result
}

// NMSPerLevel applies NMS independently within each pyramid level and
// concatenates the survivors in level order.
func NMSPerLevel(dets []Detection, iouThreshold float64) []Detection {
	byLevel := make(map[int][]Detection)
	var levels []int
	for _, d := range dets {
		if _, ok := byLevel[d.Level]; !ok {
			levels = append(levels, d.Level)
		}
		byLevel[d.Level] = append(byLevel[d.Level], d)
	}
	sort.Ints(levels)

	var result []Detection
	for _, l := range levels {
		result = append(result, NMS(byLevel[l], iouThreshold)...)
	}
	return result
}
