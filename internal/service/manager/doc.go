// Package manager stages release archives on a host and switches the live link between
// version directories.
//
// A version directory only appears under the versions root once its archive has been fully
// extracted, and the live link is replaced with a single rename so readers never observe a
// missing link.
package manager
