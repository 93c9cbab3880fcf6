// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package agc

import (
	"bytes"
	"fmt"

	"github.com/refresh-bio/agc-go/archive"
)

// writeFileTypeInfo records the producer/version/format strings spec.md
// §6 reserves the file_type_info stream for, as three zero-terminated
// fields: producer, version, format. The on-disk format version string is
// written into both the version and the format field.
func writeFileTypeInfo(ar *archive.Archive) error {
	id := ar.RegisterStream(archive.StreamFileTypeInfo)
	var buf []byte
	for _, s := range []string{producerName, formatVersion, formatVersion} {
		buf = append(buf, []byte(s)...)
		buf = append(buf, 0)
	}
	return ar.AddPart(id, buf, 0)
}

// FileTypeInfo is the producer/version/format triple the info subcommand
// reports.
type FileTypeInfo struct {
	Producer string
	Version  string
	Format   string
}

// readFileTypeInfo reads the file_type_info stream back, for the `info`
// CLI subcommand.
func readFileTypeInfo(ar *archive.Archive) (FileTypeInfo, error) {
	id, ok := ar.GetStreamID(archive.StreamFileTypeInfo)
	if !ok {
		return FileTypeInfo{}, fmt.Errorf("agc: archive has no file_type_info stream")
	}
	data, _, err := ar.GetPart(id, 0)
	if err != nil {
		return FileTypeInfo{}, err
	}
	var fields [3]string
	for i := range fields {
		idx := bytes.IndexByte(data, 0)
		if idx < 0 {
			return FileTypeInfo{}, fmt.Errorf("agc: truncated file_type_info stream")
		}
		fields[i] = string(data[:idx])
		data = data[idx+1:]
	}
	return FileTypeInfo{Producer: fields[0], Version: fields[1], Format: fields[2]}, nil
}
