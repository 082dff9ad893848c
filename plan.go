package rumbac

// chunk is one page-aligned region of the image, written and verified in a
// single cycle. The last chunk of a plan may be shorter than a page.
type chunk struct {
	addr uint32
	data []byte
}

// planTransfer splits image into chunks that never straddle a page
// boundary. The chunks are contiguous, non-overlapping and sum exactly to
// the image length. An empty or oversized image is rejected before any
// command goes to the transport.
func planTransfer(geom FlashGeometry, image []byte) ([]chunk, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}
	if len(image) > geom.Capacity() {
		return nil, &ImageTooLargeError{Size: len(image), Capacity: geom.Capacity()}
	}

	pageSize := int(geom.Size)
	chunks := make([]chunk, 0, (len(image)+pageSize-1)/pageSize)
	for off := 0; off < len(image); off += pageSize {
		end := off + pageSize
		if end > len(image) {
			end = len(image)
		}
		chunks = append(chunks, chunk{
			addr: geom.Addr + uint32(off),
			data: image[off:end],
		})
	}
	return chunks, nil
}
