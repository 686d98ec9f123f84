package apkg

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldEntries           protowire.Number = 1
	fieldEntryName         protowire.Number = 1
	fieldLegacyZipFilename protowire.Number = 255
)

// parseMediaEntries decodes the MediaEntries message of anki21b packages.
// Entry i is stored in the archive under its legacy zip filename or, when
// absent, under its position.
func parseMediaEntries(data []byte) (map[string]string, error) {
	mapping := make(map[string]string)
	index := 0
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("decode media entries: %w", protowire.ParseError(n))
		}
		data = data[n:]
		if num != fieldEntries || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("decode media entries: %w", protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		entry, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("decode media entries: %w", protowire.ParseError(n))
		}
		data = data[n:]
		name, zipName, err := parseMediaEntry(entry)
		if err != nil {
			return nil, err
		}
		if zipName == "" {
			zipName = strconv.Itoa(index)
		}
		mapping[zipName] = name
		index++
	}
	return mapping, nil
}

func parseMediaEntry(data []byte) (string, string, error) {
	var name, zipName string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", fmt.Errorf("decode media entry: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldEntryName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return "", "", fmt.Errorf("decode media entry: %w", protowire.ParseError(n))
			}
			name = string(v)
			data = data[n:]
		case num == fieldLegacyZipFilename && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", "", fmt.Errorf("decode media entry: %w", protowire.ParseError(n))
			}
			zipName = strconv.FormatUint(v, 10)
			data = data[n:]
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", fmt.Errorf("decode media entry: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return name, zipName, nil
}
