// Package audio implements the gateway's audio pipelines: microphone frame
// capture/forwarding, ordered playback of synthesized speech, and the level
// analyzer driving the widget visualization.
//
// The wire format throughout is mono PCM16 little-endian at 24kHz,
// base64-framed for transport.
package audio

import (
	"encoding/base64"
	"encoding/binary"
)

// Wire format constants.
const (
	WireSampleRate = 24000
	WireChannels   = 1

	// FrameSamples is the fixed wire frame size: 20ms at 24kHz.
	FrameSamples = WireSampleRate / 50
)

// BytesToSamples converts little-endian PCM16 bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to little-endian PCM16 bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Resample converts audio from srcRate to dstRate using linear interpolation.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(dstRate) / float64(srcRate)
	newLen := int(float64(len(samples)) * ratio)
	result := make([]int16, newLen)

	for i := 0; i < newLen; i++ {
		srcIdx := float64(i) / ratio
		idx := int(srcIdx)
		if idx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			frac := srcIdx - float64(idx)
			result[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		}
	}

	return result
}

// EncodeFrame base64-encodes a PCM16 frame for transport.
func EncodeFrame(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeFrame decodes a base64 PCM16 frame.
func DecodeFrame(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}
