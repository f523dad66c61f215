// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	ContainerEngineNotFoundId Id = iota + 1
	ConfigLoadFailedId
	SecretUnavailableId
	ManifestInvalidId
	AppFileMissingId
	BuildFailedId
	ImageTagNotFoundId
	InvalidPortId
	SecretLeakId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue markdown, with a "See also" section when links exist.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine found!

provkit builds and runs images through Docker or Podman, and neither was found in your PATH.

## Things you can try:
- Install Docker (with BuildKit) or Podman
- Pick the engine explicitly in your config:
~~~cue
container_engine: "podman"
~~~`,
		extLinks: []HttpLink{
			"https://docs.docker.com/build/buildkit/",
			"https://podman.io/docs/installation",
		},
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load the project config!

The provkit.cue file exists but could not be parsed or does not match the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ provkit config show
~~~
- Write a fresh file with defaults:
~~~
$ provkit config init
~~~`,
	}

	secretUnavailableIssue = &Issue{
		id: SecretUnavailableId,
		mdMsg: `
# Build secret unavailable!

Private dependencies are fetched over SSH during the build, and the build refuses to
run without a credential source. Nothing is ever baked into the image.

## Things you can try:
- Start an agent and load the deploy key:
~~~
$ eval "$(ssh-agent -s)"
$ ssh-add ~/.ssh/deploy_key
~~~
- Or point provkit at the key file directly:
~~~cue
secrets: ssh_source: "~/.ssh/deploy_key"
~~~`,
		extLinks: []HttpLink{"https://docs.docker.com/build/building/secrets/"},
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Dependency manifest invalid!

The dependency manifest could not be read. provkit accepts a pip-style
requirements.txt or a pyproject.toml with a [project] dependencies array.

## Things you can try:
- Check that build.manifest points at the right file
- Make sure every private dependency uses a ` + "`git+ssh://`" + ` or ` + "`git+https://`" + ` URL`,
	}

	appFileMissingIssue = &Issue{
		id: AppFileMissingId,
		mdMsg: `
# Application file missing!

An entry in build.app_files matched nothing in the project directory.

## Things you can try:
- Check the glob patterns in build.app_files
- Preview what would be copied:
~~~
$ provkit plan
~~~`,
	}

	buildFailedIssue = &Issue{
		id: BuildFailedId,
		mdMsg: `
# Image build failed!

The container engine exited with an error while building the image.

## Things you can try:
- Re-run with --verbose to see the full engine output
- Confirm the private repositories are reachable with your key:
~~~
$ provkit check
~~~`,
	}

	imageTagNotFoundIssue = &Issue{
		id: ImageTagNotFoundId,
		mdMsg: `
# Image tag not found!

The requested image tag does not exist in the registry, so no container was started.

## Things you can try:
- Check the version suffix you passed to 'provkit run'
- Build and push the image first:
~~~
$ provkit build --push --tag <suffix>
~~~`,
	}

	invalidPortIssue = &Issue{
		id: InvalidPortId,
		mdMsg: `
# Listening port missing or invalid!

The launcher reads the listening port from the PORT environment variable and
refuses to start without it.

## Things you can try:
- Pass it when running the container:
~~~
$ docker run -e PORT=8000 ...
~~~`,
	}

	secretLeakIssue = &Issue{
		id: SecretLeakId,
		mdMsg: `
# Secret material found in image!

'provkit audit' found credential material in the image config, history, or layers.

## Things you can try:
- Rebuild with the current provkit version, which only uses build-time mounts
- Rotate any key that may have been exposed`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to talk to the container engine.

## Things you can try:
- Add your user to the docker group:
~~~
$ sudo usermod -aG docker $USER
~~~
- Or use rootless Podman`,
	}

	issues = map[Id]*Issue{
		containerEngineNotFoundIssue.Id(): containerEngineNotFoundIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		secretUnavailableIssue.Id():       secretUnavailableIssue,
		manifestInvalidIssue.Id():         manifestInvalidIssue,
		appFileMissingIssue.Id():          appFileMissingIssue,
		buildFailedIssue.Id():             buildFailedIssue,
		imageTagNotFoundIssue.Id():        imageTagNotFoundIssue,
		invalidPortIssue.Id():             invalidPortIssue,
		secretLeakIssue.Id():              secretLeakIssue,
		permissionDeniedIssue.Id():        permissionDeniedIssue,
	}
)

// Values returns every registered issue ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

func Get(id Id) *Issue {
	return issues[id]
}
