// Package backup copies an oodb store file into a self-describing archive
// and rebuilds a store from it.
//
// # Format
//
// An archive starts with a 256-byte BackupHeader (magic "ODBK") carrying the
// backup UUID, the source file UUID, the commit sequence, the store's
// metadata words and a blake3-256 digest. The pages of one committed
// snapshot follow, optionally compressed with xz.
//
// # Creating Backups
//
//	stats, err := backup.Backup("accounts.odb", &backup.BackupOptions{
//	    OutputPath: "accounts.odbk",
//	    Compress:   true,
//	})
//
// The store may stay open in other handles while the backup runs.
//
// # Restoring Backups
//
//	stats, err := backup.Restore(&backup.RestoreOptions{
//	    InputPath:  "accounts.odbk",
//	    TargetPath: "restored.odb",
//	})
//
// Restore refuses to overwrite an existing file and commits only after
// every page checksum and the archive digest verify. Verify performs the
// same checks without writing a store.
//
// # Error Handling
//
//   - ErrInvalidBackup: the archive is truncated or a page is corrupt
//   - ErrInvalidMagic: not an oodb backup
//   - ErrDigestMismatch: page stream or metadata do not match the digest
//   - ErrTargetExists: the restore target already exists
package backup
