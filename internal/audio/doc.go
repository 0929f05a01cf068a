// Package audio holds the per-session rolling PCM windows and the PCM/WAV helpers shared by adapters.
package audio
