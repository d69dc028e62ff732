package audioio

// Resample converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
// For higher quality, consider using a polyphase filter.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)

	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			// Linear interpolation
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}

	return result
}

// ResampleBytes resamples raw PCM16 bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	samples := BytesToSamples(data)
	resampled := Resample(samples, fromRate, toRate)
	return SamplesToBytes(resampled)
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// MixChannels converts interleaved samples between channel counts. Mono
// is duplicated to every output channel; other layouts are averaged down
// to mono first.
func MixChannels(samples []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	if from == 1 && to == 2 {
		return MonoToStereo(samples)
	}
	if from == 2 && to == 1 {
		return StereoToMono(samples)
	}

	frames := len(samples) / from
	out := make([]int16, frames*to)
	for f := 0; f < frames; f++ {
		var sum int32
		for c := 0; c < from; c++ {
			sum += int32(samples[f*from+c])
		}
		v := int16(sum / int32(from))
		for c := 0; c < to; c++ {
			out[f*to+c] = v
		}
	}
	return out
}

// ResampleInterleaved resamples each channel of interleaved samples.
func ResampleInterleaved(samples []int16, channels, fromRate, toRate int) []int16 {
	if channels <= 1 {
		return Resample(samples, fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	frames := len(samples) / channels
	plane := make([]int16, frames)
	var out []int16
	for c := 0; c < channels; c++ {
		for f := 0; f < frames; f++ {
			plane[f] = samples[f*channels+c]
		}
		res := Resample(plane, fromRate, toRate)
		if out == nil {
			out = make([]int16, len(res)*channels)
		}
		for f, v := range res {
			out[f*channels+c] = v
		}
	}
	return out
}

// Convert returns the chunk's samples in the given rate and channel layout.
// A chunk with no rate or channels set is assumed to be in the target format.
func Convert(chunk AudioChunk, rate, channels int) []int16 {
	samples := chunk.Samples
	srcChannels := chunk.Channels
	if srcChannels == 0 {
		srcChannels = channels
	}
	samples = MixChannels(samples, srcChannels, channels)
	if chunk.SampleRate != 0 {
		samples = ResampleInterleaved(samples, channels, chunk.SampleRate, rate)
	}
	return samples
}

// ApplyGain scales samples in place, clipping to the int16 range.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		samples[i] = int16(v)
	}
}

// MonoToStereo duplicates mono samples to stereo.
func MonoToStereo(samples []int16) []int16 {
	stereo := make([]int16, len(samples)*2)
	for i, s := range samples {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	return stereo
}

// StereoToMono averages stereo samples to mono.
func StereoToMono(samples []int16) []int16 {
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		left := int32(samples[i*2])
		right := int32(samples[i*2+1])
		mono[i] = int16((left + right) / 2)
	}
	return mono
}

// CalculateRMS calculates the root mean square of samples.
// Returns a value between 0.0 and 1.0.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := sum / float64(len(samples))
	// Normalize to 0-1 range (32767^2 = max possible)
	return rms / (32767 * 32767)
}

