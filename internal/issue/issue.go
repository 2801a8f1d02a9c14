// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Id identifies a guide in the catalog.
type Id int

const (
	ConnectionFailedId Id = iota + 1
	HostKeyRejectedId
	AuthenticationFailedId
	CommandFailedId
	SchedulerToolNotFoundId
	UnknownQueueId
	InvalidWorkingDirectoryId
	InvalidPropertyId
	InvalidJobIdId
	ConfigLoadFailedId
	ServerStartFailedId
)

type (
	// MarkdownMsg is the Markdown body of a guide.
	MarkdownMsg string

	// HttpLink is a documentation link.
	HttpLink string

	// Issue is a guide explaining a class of failure and how to recover.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the catalog id.
func (i *Issue) Id() Id { return i.id }

// MarkdownMsg returns the guide body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// DocLinks returns a copy of the documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the guide for the terminal with the glamour style at
// stylePath ("dark", "light", "notty" or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	connectionFailedIssue = &Issue{
		id: ConnectionFailedId,
		mdMsg: `
# Could not reach the scheduler host

The SSH connection to the target host could not be established.

## Things you can try:
- Check that the host name and port are right:
~~~
$ batchsh --target ssh://login.cluster.example.org:22 slurm queues
~~~
- Raise the connection timeout (milliseconds):
~~~cue
properties: "batchsh.ssh.connection.timeout": "30000"
~~~
- Make sure a firewall or VPN is not blocking port 22`,
		docLinks: []HttpLink{"https://man.openbsd.org/ssh"},
	}

	hostKeyRejectedIssue = &Issue{
		id: HostKeyRejectedId,
		mdMsg: `
# Host key rejected

The host key presented by the server is unknown or does not match your
known_hosts file.

## Things you can try:
- Connect once with ssh to review and record the key:
~~~
$ ssh login.cluster.example.org
~~~
- Point batchsh at another known_hosts file:
~~~cue
properties: "batchsh.ssh.known.hosts": "/etc/ssh/ssh_known_hosts"
~~~
- For throwaway test hosts only, disable checking with
  ` + "`batchsh.ssh.strict.host.key.checking: \"false\"`",
	}

	authenticationFailedIssue = &Issue{
		id: AuthenticationFailedId,
		mdMsg: `
# Authentication failed

The host refused every credential batchsh offered.

## Things you can try:
- Pass the user explicitly with ` + "`--user`" + `
- Pass a private key with ` + "`--key ~/.ssh/id_ed25519`" + `
- Read a password from the environment with ` + "`--password-env CLUSTER_PASSWORD`" + `
- Check that your public key is in ` + "`~/.ssh/authorized_keys`" + ` on the host`,
	}

	commandFailedIssue = &Issue{
		id: CommandFailedId,
		mdMsg: `
# Scheduler command failed

A scheduler tool exited with a non-zero code or wrote to standard error.
batchsh treats any standard error output as a failure, because scheduler
tools are silent when they succeed.

## Things you can try:
- Read the error output above; it is the tool's own diagnosis
- Run the same command by hand on the target host
- Use ` + "`--verbose`" + ` to see every command batchsh runs`,
	}

	schedulerToolNotFoundIssue = &Issue{
		id: SchedulerToolNotFoundId,
		mdMsg: `
# Scheduler tool not found

The shell on the target host could not find the scheduler command
(exit code 127).

## Things you can try:
- Check that the scheduler client tools are installed on the host:
~~~
$ which sbatch squeue sinfo scancel sacct
~~~
- Load the scheduler module in your login profile (` + "`module load slurm`" + `)`,
	}

	unknownQueueIssue = &Issue{
		id: UnknownQueueId,
		mdMsg: `
# Unknown queue

The job names a queue (partition) the scheduler does not know. Queue names
match exactly, including case.

## Things you can try:
- List the available queues:
~~~
$ batchsh slurm queues
~~~
- Leave the queue empty to use the scheduler default`,
	}

	invalidWorkingDirectoryIssue = &Issue{
		id: InvalidWorkingDirectoryId,
		mdMsg: `
# Working directory does not exist

The job working directory is missing on the target host. Relative paths
are resolved against the login directory of the host.

## Things you can try:
- Create the directory on the host before submitting
- Pass an absolute path
- Check which directory relative paths resolve against:
~~~
$ batchsh check workdir .
~~~`,
	}

	invalidPropertyIssue = &Issue{
		id: InvalidPropertyId,
		mdMsg: `
# Invalid property

A property is unknown to the adaptor or its value has the wrong type.

## Things you can try:
- Check the spelling of the property name
- Durations are whole milliseconds, for example ` + "`\"1000\"`" + `
- Booleans are ` + "`\"true\"`" + ` or ` + "`\"false\"`",
	}

	invalidJobIdIssue = &Issue{
		id: InvalidJobIdId,
		mdMsg: `
# Invalid job identifier

Job identifiers must be non-empty and fit on one line. Use the identifier
printed by ` + "`batchsh slurm submit`" + `.`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

The configuration file could not be read or does not match the schema.

## Things you can try:
- Show where batchsh looks for its configuration:
~~~
$ batchsh config path
~~~
- Show the effective configuration:
~~~
$ batchsh config show
~~~
- Check the CUE syntax of the file`,
		docLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	serverStartFailedIssue = &Issue{
		id: ServerStartFailedId,
		mdMsg: `
# SSH endpoint failed to start

The loopback SSH endpoint could not listen on the requested address.

## Things you can try:
- Pick another port with ` + "`--listen 127.0.0.1:0`" + `
- Check that no other process holds the port`,
	}

	issues = map[Id]*Issue{
		connectionFailedIssue.Id():        connectionFailedIssue,
		hostKeyRejectedIssue.Id():         hostKeyRejectedIssue,
		authenticationFailedIssue.Id():    authenticationFailedIssue,
		commandFailedIssue.Id():           commandFailedIssue,
		schedulerToolNotFoundIssue.Id():   schedulerToolNotFoundIssue,
		unknownQueueIssue.Id():            unknownQueueIssue,
		invalidWorkingDirectoryIssue.Id(): invalidWorkingDirectoryIssue,
		invalidPropertyIssue.Id():         invalidPropertyIssue,
		invalidJobIdIssue.Id():            invalidJobIdIssue,
		configLoadFailedIssue.Id():        configLoadFailedIssue,
		serverStartFailedIssue.Id():       serverStartFailedIssue,
	}
)

// Values returns every issue ordered by id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
}

// Get returns the issue with id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
