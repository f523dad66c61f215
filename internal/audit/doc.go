// SPDX-License-Identifier: MPL-2.0

// Package audit checks built images for leaked build credentials.
//
// A Scanner walks an image's config, history and every layer, looking for
// supplied credential bytes and for paths where SSH or git credentials
// usually land. Layers are read one by one so a secret deleted by a later
// layer is still reported.
package audit
