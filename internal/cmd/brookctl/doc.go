// Package brookctl contains the Cobra commands of the brook operator CLI.
// Every command opens the local runtime from the resolved configuration,
// runs one operation against a single brook and closes it again.
package brookctl
