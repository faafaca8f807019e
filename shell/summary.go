package shell

import (
	"bufio"
	"strings"
)

// dumpSummaryFields maps the labels of util.dumpInstance's closing report
// to the status keys they are published under.
var dumpSummaryFields = map[string]string{
	"Duration":               "duration",
	"Schemas dumped":         "schemasDumped",
	"Tables dumped":          "tablesDumped",
	"Uncompressed data size": "dataSize",
	"Compressed data size":   "compressedSize",
	"Rows written":           "rowsWritten",
	"Bytes written":          "bytesWritten",
}

// ParseDumpSummary extracts the closing report of a dump. Lines it does
// not recognize are ignored; the last occurrence of a label wins.
func ParseDumpSummary(out string) map[string]any {
	info := map[string]any{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		label, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key, ok := dumpSummaryFields[strings.TrimSpace(label)]
		if !ok {
			continue
		}
		info[key] = strings.TrimSpace(value)
	}
	return info
}
