package release

import (
	"errors"
	"fmt"
	"strings"
)

// Channel selects which distribution variant to download.
type Channel string

const (
	// ChannelWindows is the stable Windows dedicated server.
	ChannelWindows Channel = "windows"
	// ChannelLinux is the stable Linux dedicated server.
	ChannelLinux Channel = "linux"
	// ChannelPreviewWindows is the preview Windows dedicated server.
	ChannelPreviewWindows Channel = "preview-windows"
	// ChannelPreviewLinux is the preview Linux dedicated server.
	ChannelPreviewLinux Channel = "preview-linux"
	// ChannelServerJar is the alternate jar packaging.
	ChannelServerJar Channel = "server-jar"
)

// ErrUnknownChannel is returned by ParseChannel for unsupported values.
var ErrUnknownChannel = errors.New("unknown download type")

//nolint:gochecknoglobals // Static lookup table.
var downloadTypes = map[Channel]string{
	ChannelWindows:        "serverBedrockWindows",
	ChannelLinux:          "serverBedrockLinux",
	ChannelPreviewWindows: "serverBedrockPreviewWindows",
	ChannelPreviewLinux:   "serverBedrockPreviewLinux",
	ChannelServerJar:      "serverJar",
}

// Channels lists every supported channel in a stable order.
func Channels() []Channel {
	return []Channel{
		ChannelWindows,
		ChannelLinux,
		ChannelPreviewWindows,
		ChannelPreviewLinux,
		ChannelServerJar,
	}
}

// ChannelNames returns the CLI spelling of every channel.
func ChannelNames() []string {
	channels := Channels()
	names := make([]string, 0, len(channels))

	for _, c := range channels {
		names = append(names, string(c))
	}

	return names
}

// ParseChannel accepts either the CLI spelling ("preview-linux") or the
// catalog download type ("serverBedrockPreviewLinux"), case-insensitively.
func ParseChannel(s string) (Channel, error) {
	value := strings.ToLower(strings.TrimSpace(s))

	for channel, downloadType := range downloadTypes {
		if value == string(channel) || value == strings.ToLower(downloadType) {
			return channel, nil
		}
	}

	return "", fmt.Errorf("%q: %w (expected one of %s)", s, ErrUnknownChannel, strings.Join(ChannelNames(), ", "))
}

// DownloadType is the identifier the remote catalog uses for this channel.
// It is also the key under which the identity is cached.
func (c Channel) DownloadType() string {
	return downloadTypes[c]
}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	_, ok := downloadTypes[c]
	return ok
}

func (c Channel) String() string {
	return string(c)
}
