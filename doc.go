// Package imagefv extracts images from firmware-volume image containers.
//
// A container starts with a fixed header ("IMAGEFV" or "LOGOFV" magic)
// followed by a descriptor table. Each descriptor points at a payload that is
// either a raw framebuffer in one of several packed pixel formats or an
// embedded PNG, JPEG, GIF, or BMP stream, optionally compressed.
//
// Header problems are fatal. Problems with a single entry are recorded
// against that entry and extraction continues with the rest.
//
// # Quick Start
//
// Extract every image to a directory:
//
//	res, err := imagefv.Extract(ctx, "logo.img", "./out")
//	if err != nil {
//	    return err // header-level failure, nothing written
//	}
//	for _, e := range res.FailedEntries() {
//	    log.Printf("entry %d: %v", e.Index, e.Err)
//	}
//	os.Exit(res.Status.ExitCode())
//
// Inspect entries without writing files:
//
//	c, err := imagefv.Open("logo.img")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	for _, e := range c.Entries() {
//	    img, err := c.Decode(e.Index)
//	    ...
//	}
//
// # Firmware images
//
// Containers are often embedded in larger firmware files. [WithScan] makes
// Load and Open search for the first valid header instead of requiring it
// at offset zero.
package imagefv
