package api

import jsoniter "github.com/json-iterator/go"

var ssejson = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonMarshalArray renders an asciicast-style [t, type, data] event array,
// matching the wire shape stream.Event.Array() describes.
func jsonMarshalArray(t float64, typ, data string) ([]byte, error) {
	return ssejson.Marshal([3]interface{}{t, typ, data})
}
