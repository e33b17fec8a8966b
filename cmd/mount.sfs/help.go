package main

const helpTextLong = `%s (%s) - FUSE mount helper

This program is a helper for the mount/fstab mechanism.
It is normally located in /sbin or another directory
searched by mount(8) for filesystem helpers, and is
not intended to be invoked directly by end users.

Usage:
  %s source mountpoint [-o key[=value],key[=value],...]

The source argument names the backing directory for file content,
or "none" for keeping all file content in memory (RAM).

For running the filesystem as another (e.g. unprivileged) user:
  %s source mountpoint -o setuid=USER[,key[=value],...]

Example (fstab entry):
  /mnt/backing   /mnt/sfs   sfs   allow_other,webaddr=:8000   0  0

Filesystem-specific options need to be adapted into this format:
  --webaddr :8000 --allow-other => webaddr=:8000,allow_other

Note that FUSE mount helper events are printed to standard error (stderr).`
