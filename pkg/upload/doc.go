// Package upload sends media to the upload endpoint.
//
// Small media is posted in one multipart request. Larger media, or any
// media when chunking is forced, goes through the chunked protocol:
//
//	INIT      announces total_bytes, media_type and media_category
//	APPEND    sends each chunk with its segment_index, starting at 0
//	FINALIZE  closes the upload
//	STATUS    polled every check_after_secs until processing ends
//
// The media type is taken from Options, sniffed from the payload, or
// guessed from the file name, in that order.
package upload
