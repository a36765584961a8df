package fsx

import "os"

// OS 是基于本地文件系统的默认实现（导入执行器通过接口消费它，测试可替换）。
type OS struct{}

func (OS) EnsureDir(dir string) error { return EnsureDir(dir) }

func (OS) CopyFile(src, dst string) (int64, error) { return CopyFile(src, dst) }

func (OS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (OS) Remove(path string) error { return Remove(path) }

func (OS) Exists(path string) bool { return Exists(path) }
