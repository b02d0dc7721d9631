package tools

import "encoding/json"

type echoArgs struct {
	Message string `json:"message"`
}

// Key is a pointer so an explicit empty string stays distinct from an
// absent key: "" is a valid key, missing is an argument error.
type memoryArgs struct {
	Action string          `json:"action"`
	Key    *string         `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

type fetchArgs struct {
	URL        string `json:"url"`
	MaxLength  *int   `json:"max_length,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	Raw        bool   `json:"raw,omitempty"`
}

var echoSchema = []byte(`{
  "type": "object",
  "properties": {
    "message": {
      "type": "string",
      "description": "The message to echo"
    }
  },
  "required": ["message"]
}`)

var memorySchema = []byte(`{
  "type": "object",
  "properties": {
    "action": {
      "type": "string",
      "enum": ["store", "retrieve", "list", "delete", "clear"],
      "description": "The action to perform: 'store' to save a value, 'retrieve' to get a value, 'list' to see all keys, 'delete' to remove a key, or 'clear' to remove all keys"
    },
    "key": {
      "type": "string",
      "description": "The key to store/retrieve/delete the memory under (not required for list/clear)"
    },
    "value": {
      "type": ["object", "null"],
      "description": "The JSON value to store (only required for store action)"
    }
  },
  "required": ["action"]
}`)

var fetchSchema = []byte(`{
  "type": "object",
  "properties": {
    "url": {
      "type": "string",
      "description": "URL to fetch"
    },
    "max_length": {
      "type": "integer",
      "description": "Maximum number of characters to return",
      "default": 5000
    },
    "start_index": {
      "type": "integer",
      "description": "Start content from this character index",
      "default": 0
    },
    "raw": {
      "type": "boolean",
      "description": "Get raw content without markdown conversion",
      "default": false
    }
  },
  "required": ["url"]
}`)
