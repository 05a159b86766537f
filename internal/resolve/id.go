package resolve

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// sessionIDKeys are the JSON keys checked for a session id, in order.
var sessionIDKeys = []string{"sessionId", "session_id", "sessionID", "id", "lastSessionId"}

var uuidRE = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// jsonlScanLimit bounds how many leading lines of a JSONL file are parsed.
const jsonlScanLimit = 20

// regexScanLimit bounds how much of a file the UUID regex rung reads.
const regexScanLimit = 64 * 1024

// ExtractSessionID walks the id extraction ladder for a session file:
// UUID filename, whole-file JSON keys, JSONL line keys, UUID regex over the
// file head, and finally the filename's last hyphen-separated token.
func ExtractSessionID(path string) string {
	if id := idFromFilename(path); id != "" {
		return id
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	if id := idFromJSON(data); id != "" {
		return id
	}
	if id := idFromJSONL(data); id != "" {
		return id
	}
	if id := idFromUUIDScan(data); id != "" {
		return id
	}
	return idFromFilenamePattern(path)
}

// idFromFilename returns the file stem when it is a valid UUID.
func idFromFilename(path string) string {
	stem := fileStem(path)
	if _, err := uuid.Parse(stem); err == nil {
		return stem
	}
	return ""
}

// idFromJSON checks the known key names on a whole-file JSON object,
// including a nested payload object.
func idFromJSON(data []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	return idFromObject(obj)
}

// idFromJSONL scans the leading lines of a JSONL file for the known keys.
func idFromJSONL(data []byte) string {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lines := 0; scanner.Scan() && lines < jsonlScanLimit; lines++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if id := idFromObject(obj); id != "" {
			return id
		}
	}
	return ""
}

func idFromObject(obj map[string]json.RawMessage) string {
	for _, key := range sessionIDKeys {
		if raw, ok := obj[key]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	if raw, ok := obj["payload"]; ok {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err == nil {
			for _, key := range sessionIDKeys {
				if r, ok := payload[key]; ok {
					var s string
					if err := json.Unmarshal(r, &s); err == nil && strings.TrimSpace(s) != "" {
						return s
					}
				}
			}
		}
	}
	return ""
}

// idFromUUIDScan finds the first UUID anywhere in the file head.
func idFromUUIDScan(data []byte) string {
	if len(data) > regexScanLimit {
		data = data[:regexScanLimit]
	}
	return string(uuidRE.Find(data))
}

// idFromFilenamePattern falls back to the last hyphen-separated token of the
// stem, for names like session-20260115-a1b2c3d4.
func idFromFilenamePattern(path string) string {
	stem := fileStem(path)
	idx := strings.LastIndexByte(stem, '-')
	if idx < 0 || idx == len(stem)-1 {
		return ""
	}
	token := stem[idx+1:]
	if len(token) < 8 {
		return ""
	}
	return token
}

func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
