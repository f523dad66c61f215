// SPDX-License-Identifier: MPL-2.0

// Package provision builds provider images.
//
// A Builder loads the dependency manifest, provisions the build-time SSH
// credential, assembles a throwaway build context, renders the two-stage
// plan and hands the result to the container engine:
//
//	b := provision.NewBuilder(engine, creds, provision.OptionsFromConfig(cfg), logger)
//	res, err := b.Build(ctx, provision.Request{Tag: ref})
//	// res.Digest is the plan digest recorded on the image
//
// Credentials are torn down on every exit path. Nothing the credential
// provisioner produces is written into the build context.
package provision
