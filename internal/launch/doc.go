// SPDX-License-Identifier: MPL-2.0

// Package launch starts the provider's ASGI server inside the runner image.
//
// The launcher reads PORT from the container environment, builds the server
// argv and replaces itself with the server process, so the server becomes the
// container's main process and receives its signals directly.
package launch
