package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/liuyi61ly/paradex-bot/internal/config"
)

// 逐项检查两个账户的 L2 凭证格式，用于部署前自查。
// 只做格式校验，不访问网络，也不回显凭证内容。
func main() {
	_ = godotenv.Load()

	checks := []struct {
		env    string
		secret bool
	}{
		{env: "PARADEX_ACCOUNTS_ACCOUNT1_L2_ADDRESS"},
		{env: "PARADEX_ACCOUNTS_ACCOUNT1_L2_PRIVATE_KEY", secret: true},
		{env: "PARADEX_ACCOUNTS_ACCOUNT2_L2_ADDRESS"},
		{env: "PARADEX_ACCOUNTS_ACCOUNT2_L2_PRIVATE_KEY", secret: true},
	}

	failed := 0
	for _, c := range checks {
		value := os.Getenv(c.env)
		if err := config.CheckHexFelt(value); err != nil {
			fmt.Printf("✗ %s: %v\n", c.env, err)
			failed++
			continue
		}

		if c.secret {
			fmt.Printf("✓ %s: 格式正确 (%d个hex字符)\n", c.env, hexLen(value))
		} else {
			fmt.Printf("✓ %s: 格式正确 (%s)\n", c.env, shorten(value))
		}
	}

	if failed > 0 {
		fmt.Printf("\n%d 项凭证格式有误，请检查 .env 或环境变量\n", failed)
		os.Exit(1)
	}
	fmt.Println("\n全部凭证格式正确")
}

func hexLen(value string) int {
	if len(value) >= 2 && value[:2] == "0x" {
		return len(value) - 2
	}
	return len(value)
}

func shorten(value string) string {
	if len(value) <= 12 {
		return value
	}
	return value[:6] + "..." + value[len(value)-4:]
}
