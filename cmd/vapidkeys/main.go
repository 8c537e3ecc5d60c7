// VAPID鍵ペアを生成し、.envにそのまま貼り付けられる形式で出力するツール。
package main

import (
	"flag"
	"fmt"
	"os"

	webpush "github.com/SherClockHolmes/webpush-go"
)

func main() {
	email := flag.String("email", "", "VAPIDの連絡先メールアドレス")
	flag.Parse()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "VAPID鍵の生成に失敗: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", privateKey)
	if *email != "" {
		fmt.Printf("VAPID_CONTACT_EMAIL=%s\n", *email)
	}
}
